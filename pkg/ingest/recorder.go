package ingest

import "time"

// Recorder receives advisory measurements from the core. Implementations
// must be cheap and must not block; nothing they do affects control flow.
type Recorder interface {
	RequestReceived()
	RequestFailed(reason string)
	BatchFlushed(size int, took time.Duration)
	BatchFailed(size int, took time.Duration)
	SerializationFailed()
	DrainDiscarded(n int)
	// ObserveQueue hands over a function reporting the live queue length.
	// It is called once, when the Controller is built.
	ObserveQueue(depth func() int)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RequestReceived() {}
func (NopRecorder) RequestFailed(string) {}
func (NopRecorder) BatchFlushed(int, time.Duration) {}
func (NopRecorder) BatchFailed(int, time.Duration) {}
func (NopRecorder) SerializationFailed() {}
func (NopRecorder) DrainDiscarded(int) {}
func (NopRecorder) ObserveQueue(func() int) {}
