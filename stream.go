package orchestrator

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RouterStream is the one-shot stream returned by GenerateStream. It keeps
// falling back to the next backend while nothing has been forwarded to the
// caller; after the first fragment it is pinned to its backend so a single
// response never mixes fragments from two generations.
type RouterStream struct {
	router     *Router
	ctx        context.Context
	prompt     string
	params     GenerationParams
	candidates []Candidate
	pos        int // next candidate index to try

	inner      Stream
	name       string
	attemptID  string
	attemptNum int
	began      time.Time

	emitted bool
	text    strings.Builder

	lastErr  error
	lastName string

	finalErr error
	done     bool
	closed   bool
}

// Next returns the next fragment. It returns io.EOF after the final
// fragment; any other error is terminal for this stream.
func (s *RouterStream) Next() (string, error) {
	if s.done {
		if s.finalErr != nil {
			return "", s.finalErr
		}
		return "", io.EOF
	}

	for {
		if s.inner == nil {
			if err := s.advance(); err != nil {
				return "", s.finish(err)
			}
		}

		frag, err := s.inner.Next()
		if err == io.EOF {
			s.recordSuccess()
			return "", s.finish(nil)
		}
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				_ = s.inner.Close()
				s.inner = nil
				return "", s.finish(ctxErr)
			}
			s.failAttempt(err)
			if s.emitted {
				// Coherence: a fragment has been delivered, so no other
				// backend may continue this response.
				return "", s.finish(err)
			}
			continue
		}

		s.emitted = true
		s.text.WriteString(frag)
		return frag, nil
	}
}

// Close releases the underlying stream. A stream abandoned before io.EOF
// records neither success nor failure.
func (s *RouterStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.done = true
	if s.inner != nil {
		err := s.inner.Close()
		s.inner = nil
		return err
	}
	return nil
}

// advance opens a stream on the next candidate, treating open failures
// like non-streaming failures. With no candidates left it returns the last
// pre-first-fragment error.
func (s *RouterStream) advance() error {
	for s.pos < len(s.candidates) {
		if err := s.ctx.Err(); err != nil {
			return err
		}

		c := s.candidates[s.pos]
		s.pos++

		attemptID := uuid.New().String()
		s.router.meter.OnRoute(RouteEvent{
			AttemptID: attemptID,
			Backend:   c.Name,
			Attempt:   s.pos,
			Stream:    true,
		})

		began := time.Now()
		inner, err := c.Backend.GenerateStream(s.ctx, s.prompt, &s.params)
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			elapsed := time.Since(began)
			s.router.ledgerFor(c.Name).RecordError(elapsed.Seconds()*1000, time.Now())
			s.router.meter.OnResult(ResultEvent{
				AttemptID: attemptID,
				Backend:   c.Name,
				Attempt:   s.pos,
				Duration:  elapsed,
				Stream:    true,
				Error:     err,
			})
			s.lastErr, s.lastName = err, c.Name
			continue
		}

		s.inner = inner
		s.name = c.Name
		s.attemptID = attemptID
		s.attemptNum = s.pos
		s.began = began
		return nil
	}

	if s.lastErr != nil {
		return &DispatchError{
			Err:      s.lastErr,
			Backend:  s.lastName,
			Attempts: s.pos,
		}
	}
	return ErrAllFailed
}

// failAttempt records a mid-sequence failure of the current backend and
// releases its stream.
func (s *RouterStream) failAttempt(err error) {
	elapsed := time.Since(s.began)
	s.router.ledgerFor(s.name).RecordError(elapsed.Seconds()*1000, time.Now())
	s.router.meter.OnResult(ResultEvent{
		AttemptID: s.attemptID,
		Backend:   s.name,
		Attempt:   s.attemptNum,
		Duration:  elapsed,
		Stream:    true,
		Error:     err,
	})
	_ = s.inner.Close()
	s.inner = nil
	s.lastErr, s.lastName = err, s.name
}

// recordSuccess books the finished stream: latency is the whole stream
// duration, tokens are counted from the accumulated text once the full
// response is known.
func (s *RouterStream) recordSuccess() {
	elapsed := time.Since(s.began)

	promptTokens := int64(CountTokens(s.prompt, ""))
	completionTokens := int64(CountTokens(s.text.String(), ""))
	cost := CalculateCost(s.name, "", promptTokens+completionTokens)

	s.router.ledgerFor(s.name).RecordSuccess(
		elapsed.Seconds()*1000, promptTokens, completionTokens, cost)
	s.router.meter.OnResult(ResultEvent{
		AttemptID: s.attemptID,
		Backend:   s.name,
		Attempt:   s.attemptNum,
		Success:   true,
		Duration:  elapsed,
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		Cost:   cost,
		Stream: true,
	})

	_ = s.inner.Close()
	s.inner = nil
}

// Text returns everything forwarded so far.
func (s *RouterStream) Text() string {
	return s.text.String()
}

// Backend returns the name of the backend currently serving (or having
// served) this stream.
func (s *RouterStream) Backend() string {
	return s.name
}

func (s *RouterStream) finish(err error) error {
	s.done = true
	s.finalErr = err
	if err != nil {
		return err
	}
	return io.EOF
}
