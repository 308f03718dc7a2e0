package capture

import "sync"

// MockSensorSource implements SensorSource with manual event injection.
// Tests (and the demo tooling) feed synthetic sample sequences through
// Emit; delivery is synchronous, mirroring an OS callback thread.
type MockSensorSource struct {
	mu         sync.Mutex
	fn         func(SensorReading)
	rateHz     int
	subscribes int

	// SubscribeErr, when set, is returned by Subscribe.
	SubscribeErr error
}

// Subscribe attaches the callback.
func (m *MockSensorSource) Subscribe(rateHz int, fn func(SensorReading)) error {
	if m.SubscribeErr != nil {
		return m.SubscribeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	m.rateHz = rateHz
	m.subscribes++
	return nil
}

// Unsubscribe detaches the callback.
func (m *MockSensorSource) Unsubscribe() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = nil
	return nil
}

// Emit delivers one reading to the current subscriber, if any.
func (m *MockSensorSource) Emit(r SensorReading) {
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

// Subscribed reports whether a callback is currently attached.
func (m *MockSensorSource) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fn != nil
}

// RateHz returns the sampling rate requested by the last Subscribe.
func (m *MockSensorSource) RateHz() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rateHz
}

// MockBarometerSource implements BarometerSource with manual injection.
type MockBarometerSource struct {
	mu sync.Mutex
	fn func(PressureReading)
}

func (m *MockBarometerSource) Subscribe(fn func(PressureReading)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return nil
}

func (m *MockBarometerSource) Unsubscribe() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = nil
	return nil
}

// Emit delivers one reading to the current subscriber, if any.
func (m *MockBarometerSource) Emit(r PressureReading) {
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

// MockLocationSource implements LocationSource with manual injection.
type MockLocationSource struct {
	mu sync.Mutex
	fn func(LocationFix)
}

func (m *MockLocationSource) Subscribe(fn func(LocationFix)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return nil
}

func (m *MockLocationSource) Unsubscribe() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = nil
	return nil
}

// Emit delivers one fix to the current subscriber, if any.
func (m *MockLocationSource) Emit(fix LocationFix) {
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	if fn != nil {
		fn(fix)
	}
}

// Subscribed reports whether a callback is currently attached.
func (m *MockLocationSource) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fn != nil
}
