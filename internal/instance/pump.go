package instance

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/loykin/mineguard/internal/broadcast"
	"github.com/loykin/mineguard/internal/metrics"
	"github.com/loykin/mineguard/internal/parser"
	"github.com/loykin/mineguard/internal/stream"
	"vawter.tech/stopper"
)

// pump publishes every line read from rd until EOF or a read error. It does
// not watch for cancellation; the pipe closes when the child exits.
func (h *Handle) pump(r *run, rd io.Reader, ch *broadcast.Channel[Event], src stream.Source, mirror io.Writer) error {
	defer func() { r.pumpClosed <- src }()
	br := bufio.NewReader(rd)
	for {
		raw, err := br.ReadString('\n')
		if len(raw) > 0 {
			text := strings.TrimRight(raw, "\r\n")
			ch.Publish(newLineEvent(stream.NewLine(text, src)))
			metrics.IncLines(h.opts.name, src.String())
			if mirror != nil {
				if _, werr := io.WriteString(mirror, text+"\n"); werr != nil {
					slog.Debug("console mirror write failed", "instance", h.opts.name, "stream", src.String(), "error", werr)
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("pipe read ended", "instance", h.opts.name, "stream", src.String(), "error", err)
			}
			return nil
		}
	}
}

// parse feeds stdout lines to p and forwards recognised signals to the
// internal bus. ServerStarted also moves the lifetime to Running, whether or
// not a Start call is still waiting.
func (h *Handle) parse(ctx *stopper.Context, r *run, p parser.Parser, rx *broadcast.Receiver[Event]) error {
	for {
		ev, err := rx.Next(ctx.Stopping())
		if err != nil {
			var lag *broadcast.LaggedError
			if errors.As(err, &lag) {
				metrics.AddLagged(h.opts.name, stream.Stdout.String(), lag.Skipped)
				slog.Warn("log parser lagged", "instance", h.opts.name, "skipped", lag.Skipped)
				continue
			}
			return nil
		}
		line, ok := ev.Payload.(StdLine)
		if !ok {
			continue
		}
		sig, ok := p.Parse(line.Line.Raw)
		if !ok {
			continue
		}
		select {
		case h.internal <- newEvent(Semantic{Signal: sig}):
		case <-ctx.Stopping():
			return nil
		}
		if sig == parser.ServerStarted {
			h.markReady(r)
		}
	}
}

// loopback republishes internal bus events on the subscribable event
// channel. When stopping it forwards whatever is still buffered.
func (h *Handle) loopback(ctx *stopper.Context) error {
	for {
		select {
		case ev := <-h.internal:
			h.events.Publish(ev)
		case <-ctx.Stopping():
			for {
				select {
				case ev := <-h.internal:
					h.events.Publish(ev)
				default:
					return nil
				}
			}
		}
	}
}

// writeCommands is the only writer of the child's stdin. Commands are written
// and flushed one at a time in queue order.
func (h *Handle) writeCommands(ctx *stopper.Context, r *run, stdin io.WriteCloser) error {
	defer close(r.writerDone)
	defer func() { _ = stdin.Close() }()
	w := bufio.NewWriter(stdin)
	for {
		select {
		case <-ctx.Stopping():
			return nil
		case cmd := <-r.queue:
			if _, err := w.WriteString(cmd); err != nil {
				slog.Debug("stdin write failed", "instance", h.opts.name, "error", err)
				return nil
			}
			if err := w.Flush(); err != nil {
				slog.Debug("stdin flush failed", "instance", h.opts.name, "error", err)
				return nil
			}
		}
	}
}
