// Package dispatch routes incoming transactions to bound implementations:
// method lookup, argument decode, synchronous invocation and reply encode.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/binderlab/binder_core/internal/descriptor"
	"github.com/binderlab/binder_core/internal/parcel"
	"github.com/binderlab/binder_core/internal/registry"
	"github.com/binderlab/binder_core/internal/service"
	"github.com/binderlab/binder_core/pkg/logger"
)

// ErrUnknownMethod is returned when the method index is not in the handle's
// descriptor. No implementation code runs in that case.
var ErrUnknownMethod = errors.New("unknown method index")

// PayloadError wraps a codec failure while decoding transaction arguments.
// The implementation is never invoked with a malformed payload.
type PayloadError struct {
	Cause error
}

// Error implements error.
func (e *PayloadError) Error() string {
	return fmt.Sprintf("transaction payload: %v", e.Cause)
}

// Unwrap exposes the codec error for errors.Is checks against
// parcel.ErrMalformedPayload and parcel.ErrInvalidEncoding.
func (e *PayloadError) Unwrap() error { return e.Cause }

// ImplementationError is a business-logic failure returned by the bound
// implementation. It is returned to the caller; the service and other
// in-flight transactions are unaffected.
type ImplementationError struct {
	Code    int32
	Message string
}

// Error implements error.
func (e *ImplementationError) Error() string {
	return fmt.Sprintf("implementation error %d: %s", e.Code, e.Message)
}

// Observer receives per-transaction outcomes for metrics.
type Observer interface {
	ObserveDispatch(serviceName, method string, outcome string, seconds float64)
}

// Dispatcher decodes, invokes and encodes one transaction at a time on the
// calling worker. It is stateless and safe for concurrent use.
type Dispatcher struct {
	codec    *parcel.Codec
	log      *logger.Logger
	observer Observer
}

// New creates a dispatcher over the given codec.
func New(codec *parcel.Codec, log *logger.Logger) *Dispatcher {
	return &Dispatcher{codec: codec, log: log.Named("dispatch")}
}

// WithObserver attaches a metrics observer. Call before serving.
func (d *Dispatcher) WithObserver(o Observer) *Dispatcher {
	d.observer = o
	return d
}

// Dispatch executes one transaction against a handle. The handle reference
// is acquired before decode and released after the reply is encoded, so the
// lifecycle manager never observes the service idle mid-call.
func (d *Dispatcher) Dispatch(ctx context.Context, h *registry.Handle, methodIndex uint32, arg *parcel.Parcel) (*parcel.Parcel, error) {
	m, ok := h.Descriptor().Method(methodIndex)
	if !ok {
		d.observe(h.Name(), fmt.Sprintf("#%d", methodIndex), "unknown_method", 0)
		return nil, fmt.Errorf("%w: %d on %s", ErrUnknownMethod, methodIndex, h.Descriptor().Ref())
	}

	if err := h.Retain(); err != nil {
		return nil, err
	}
	defer h.Release()

	start := time.Now()

	args := make([]any, 0, len(m.Params))
	for i, pt := range m.Params {
		v, err := d.codec.Decode(arg, pt)
		if err != nil {
			d.observe(h.Name(), m.Name, "payload", time.Since(start).Seconds())
			return nil, &PayloadError{Cause: fmt.Errorf("parameter %d: %w", i, err)}
		}
		args = append(args, v)
	}

	result, err := d.invoke(ctx, h, m, args)
	if err != nil {
		d.observe(h.Name(), m.Name, "implementation", time.Since(start).Seconds())
		var implErr *ImplementationError
		if errors.As(err, &implErr) {
			return nil, implErr
		}
		var svcErr *service.Error
		if errors.As(err, &svcErr) {
			return nil, &ImplementationError{Code: svcErr.Code, Message: svcErr.Message}
		}
		return nil, &ImplementationError{Code: -1, Message: err.Error()}
	}

	reply := parcel.New()
	if err := d.codec.Encode(reply, m.Return, result); err != nil {
		d.observe(h.Name(), m.Name, "encode", time.Since(start).Seconds())
		return nil, fmt.Errorf("encode reply for %s.%s: %w", h.Name(), m.Name, err)
	}
	reply.Seal()
	d.observe(h.Name(), m.Name, "ok", time.Since(start).Seconds())
	return reply, nil
}

func (d *Dispatcher) observe(serviceName, method, outcome string, seconds float64) {
	if d.observer != nil {
		d.observer.ObserveDispatch(serviceName, method, outcome, seconds)
	}
}

// invoke runs the implementation, converting a panic into an implementation
// error so one failing transaction cannot destabilize the worker or other
// in-flight calls.
func (d *Dispatcher) invoke(ctx context.Context, h *registry.Handle, m descriptor.Method, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("service", h.Name()).WithField("method", m.Name).
				Errorf("implementation panicked: %v", r)
			err = &ImplementationError{Code: -2, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	return h.Implementation().Invoke(ctx, m.Index, args)
}
