package xwalk

import (
	"bytes"
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
)

// Pipeline connects one engine instance's output to a Router. Stdout chunks
// are decoded and routed in arrival order on the writing goroutine; stderr
// lines go to the diagnostic log.
//
// Its writers never return an error, so a failing sink cannot stall or kill
// the engine's output copy.
type Pipeline struct {
	ctx     context.Context
	router  *Router
	decoder *LineDecoder
	logger  *zap.Logger
	emit    func(Event)

	// OnPersistError, if set, is called for every alert the sink rejected.
	OnPersistError func(*PersistError)

	stderr lineSplitter
	alerts int
	lost   int
}

// NewPipeline returns a Pipeline routing through router. ctx is passed to
// every Persist call. emit may be nil.
func NewPipeline(ctx context.Context, router *Router, maxLineBytes int, logger *zap.Logger, emit func(Event)) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emit == nil {
		emit = func(Event) {}
	}
	p := &Pipeline{
		ctx:     ctx,
		router:  router,
		decoder: NewLineDecoder(maxLineBytes),
		logger:  logger,
		emit:    emit,
		stderr:  lineSplitter{max: maxLineBytesOrDefault(maxLineBytes)},
	}
	p.decoder.OnDiscard = func(line string, oversized bool) {
		if oversized {
			p.logger.Warn("dropping oversized engine output line")
			return
		}
		p.logger.Debug("ignoring non-protocol engine output", zap.String("line", line))
	}
	return p
}

// Stdout returns the writer to attach to the engine's standard output.
func (p *Pipeline) Stdout() io.Writer {
	return writerFunc(p.writeStdout)
}

// Stderr returns the writer to attach to the engine's standard error.
func (p *Pipeline) Stderr() io.Writer {
	return writerFunc(p.writeStderr)
}

// Close reports any partial stderr line. A partial stdout line is never
// routed: an engine that died mid-message never finished that report. A
// hazard in it is still logged.
func (p *Pipeline) Close() {
	p.stderr.flush(p.stderrLine)
	n := p.decoder.Pending()
	if n == 0 {
		return
	}
	for _, msg := range p.decoder.Flush() {
		if msg.Kind == KindAnalysisComplete && msg.IsDangerous {
			p.logger.Warn("engine exited before terminating a hazard report; not stored",
				zap.String("file", msg.File))
		}
	}
	p.logger.Debug("discarding unterminated engine output", zap.Int("bytes", n))
}

// Alerts reports how many alerts were persisted through this pipeline.
func (p *Pipeline) Alerts() int {
	return p.alerts
}

// Lost reports how many alerts the sink rejected.
func (p *Pipeline) Lost() int {
	return p.lost
}

func (p *Pipeline) writeStdout(chunk []byte) (int, error) {
	for _, msg := range p.decoder.Feed(chunk) {
		alert, err := p.router.Route(p.ctx, msg)
		if err != nil {
			p.persistFailed(err)
			continue
		}
		if alert != nil {
			p.alerts++
			p.emit(Event{Type: EventAlert, Data: alert.ID})
		}
	}
	return len(chunk), nil
}

func (p *Pipeline) persistFailed(err error) {
	p.lost++
	p.logger.Error("hazard alert lost", zap.Error(err))
	p.emit(Event{Type: EventPersistFailed, Data: err.Error()})

	var pe *PersistError
	if p.OnPersistError != nil && errors.As(err, &pe) {
		p.OnPersistError(pe)
	}
}

func (p *Pipeline) writeStderr(chunk []byte) (int, error) {
	p.stderr.split(chunk, p.stderrLine)
	return len(chunk), nil
}

func (p *Pipeline) stderrLine(line []byte, oversized bool) {
	if oversized {
		p.logger.Warn("engine stderr line too long, dropped")
		return
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	text := string(line)
	p.logger.Warn("engine stderr", zap.String("line", text))
	p.emit(Event{Type: EventStderr, Data: text})
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}

func maxLineBytesOrDefault(n int) int {
	if n <= 0 {
		return DefaultMaxLineBytes
	}
	return n
}
