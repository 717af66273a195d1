package core

// Mouse state structure
type MouseState struct {
	X       float64
	Y       float64
	Buttons [BUTTON_MAX_BUTTONS]bool
}

// Keyboard state structure
type KeyboardState struct {
	Keys [256]bool
}

// InputState holds current and previous keyboard and mouse state. The
// platform layer fills it, the engine advances it once per frame and the
// camera reads it. There is no package-level input state.
type InputState struct {
	KeyboardCurrent  KeyboardState
	KeyboardPrevious KeyboardState
	MouseCurrent     MouseState
	MousePrevious    MouseState
	ScrollDelta      float64

	// Optional. When set, state changes are published on the bus.
	Events *EventBus

	mouseSeeded bool
}

func NewInputState(events *EventBus) *InputState {
	return &InputState{Events: events}
}

// Update copies current state into previous state. Call once per frame,
// after everything that reads input for the frame has run.
func (is *InputState) Update() {
	is.KeyboardPrevious = is.KeyboardCurrent
	is.MousePrevious = is.MouseCurrent
	is.ScrollDelta = 0
}

// keyboard input
func (is *InputState) IsKeyDown(key KeyCode) bool {
	return is.KeyboardCurrent.Keys[key]
}

func (is *InputState) IsKeyUp(key KeyCode) bool {
	return !is.KeyboardCurrent.Keys[key]
}

func (is *InputState) WasKeyDown(key KeyCode) bool {
	return is.KeyboardPrevious.Keys[key]
}

// KeyPressed reports a key that went down this frame.
func (is *InputState) KeyPressed(key KeyCode) bool {
	return is.KeyboardCurrent.Keys[key] && !is.KeyboardPrevious.Keys[key]
}

func (is *InputState) ProcessKey(key KeyCode, pressed bool) {
	// Only handle this if the state actually changed.
	if is.KeyboardCurrent.Keys[key] == pressed {
		return
	}
	is.KeyboardCurrent.Keys[key] = pressed

	code := EVENT_CODE_KEY_RELEASED
	if pressed {
		code = EVENT_CODE_KEY_PRESSED
	}
	is.fire(EventContext{Type: code, Data: &KeyEvent{KeyCode: key}})
}

// mouse input
func (is *InputState) IsButtonDown(button Button) bool {
	return is.MouseCurrent.Buttons[button]
}

func (is *InputState) WasButtonDown(button Button) bool {
	return is.MousePrevious.Buttons[button]
}

func (is *InputState) ProcessButton(button Button, pressed bool) {
	if is.MouseCurrent.Buttons[button] == pressed {
		return
	}
	is.MouseCurrent.Buttons[button] = pressed

	code := EVENT_CODE_BUTTON_RELEASED
	if pressed {
		code = EVENT_CODE_BUTTON_PRESSED
	}
	is.fire(EventContext{Type: code, Data: &MouseEvent{Button: button}})
}

func (is *InputState) ProcessMouseMove(x, y float64) {
	if !is.mouseSeeded {
		// First sample: no delta against the zero position.
		is.MousePrevious.X, is.MousePrevious.Y = x, y
		is.mouseSeeded = true
	}
	if is.MouseCurrent.X == x && is.MouseCurrent.Y == y {
		return
	}
	is.MouseCurrent.X = x
	is.MouseCurrent.Y = y
	is.fire(EventContext{Type: EVENT_CODE_MOUSE_MOVED, Data: &MouseEvent{PosX: x, PosY: y}})
}

func (is *InputState) ProcessMouseWheel(delta float64) {
	is.ScrollDelta += delta
	is.fire(EventContext{Type: EVENT_CODE_MOUSE_WHEEL, Data: &MouseEvent{Scroll: delta}})
}

// MouseDelta is the cursor movement since the previous Update.
func (is *InputState) MouseDelta() (float64, float64) {
	return is.MouseCurrent.X - is.MousePrevious.X, is.MouseCurrent.Y - is.MousePrevious.Y
}

func (is *InputState) fire(ctx EventContext) {
	if is.Events != nil {
		is.Events.Fire(ctx)
	}
}
