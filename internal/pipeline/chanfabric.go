package pipeline

import (
	"github.com/sirupsen/logrus"

	"github.com/blockpack/blockpack/internal/blockproc"
)

// VolumeUploadRequest is the pair (block_volume, close_flag,
// index_accumulator?) placed on Output or SpillPickup. It carries the
// closed volume's id, remote filename, temp-file paths and sizes rather
// than the *volume.Writer and *indexaccum.Accumulator themselves.
type VolumeUploadRequest struct {
	VolumeID       int64
	RemoteFilename string
	VolumePath     string
	IndexPath      string // empty when no Index Accumulator travelled with this volume
	SourceSize     int64
	FileSize       int64
	CloseFlag      bool
}

// Input is the read side of the Channel Fabric's candidate-block queue
// (C7). A shard range-loops over In(); the channel closing is
// "retirement" — upstream chunker done, not an error.
type Input struct {
	ch <-chan blockproc.Block
}

// NewInput wraps an existing channel as an Input collaborator.
func NewInput(ch <-chan blockproc.Block) Input { return Input{ch: ch} }

// In exposes the channel for a range loop.
func (i Input) In() <-chan blockproc.Block { return i.ch }

// Output is the write side of the closed-volume queue consumed by the
// uploader.
type Output struct {
	ch chan<- VolumeUploadRequest
}

func NewOutput(ch chan<- VolumeUploadRequest) Output { return Output{ch: ch} }

// Send blocks until a consumer accepts req.
func (o Output) Send(req VolumeUploadRequest) {
	o.ch <- req
}

// SpillPickup is the write side of the partial-volume drain sink; a
// separate consumer may merge multiple shards' partial volumes before
// upload (Glossary: Spill Pickup).
type SpillPickup struct {
	ch chan<- VolumeUploadRequest
}

func NewSpillPickup(ch chan<- VolumeUploadRequest) SpillPickup { return SpillPickup{ch: ch} }

func (s SpillPickup) Send(req VolumeUploadRequest) {
	s.ch <- req
}

// LogChannel carries structured events from the Pipeline Core to the
// event-log sink, generalizing bare log lines into logrus.Fields.
type LogChannel struct {
	ch chan<- logEvent
}

type logEvent struct {
	level  logrus.Level
	msg    string
	fields logrus.Fields
}

// NewLogChannel starts a goroutine that forwards every event written to
// the returned LogChannel to logger. The returned stop function closes
// the internal channel and waits for the forwarding goroutine to drain
// it; call it once every producing shard has exited.
func NewLogChannel(logger logrus.FieldLogger, bufferSize int) (LogChannel, func()) {
	ch := make(chan logEvent, bufferSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			logger.WithFields(ev.fields).Log(ev.level, ev.msg)
		}
	}()
	return LogChannel{ch: ch}, func() { close(ch); <-done }
}

func (l LogChannel) Infof(fields logrus.Fields, msg string) {
	l.ch <- logEvent{level: logrus.InfoLevel, msg: msg, fields: fields}
}

func (l LogChannel) Warnf(fields logrus.Fields, msg string) {
	l.ch <- logEvent{level: logrus.WarnLevel, msg: msg, fields: fields}
}
