package core

// Key codes match the values GLFW reports.
type Key int

const (
	KEY_SPACE  Key = 32
	KEY_A      Key = 65
	KEY_D      Key = 68
	KEY_E      Key = 69
	KEY_P      Key = 80
	KEY_Q      Key = 81
	KEY_R      Key = 82
	KEY_S      Key = 83
	KEY_W      Key = 87
	KEY_X      Key = 88
	KEY_ESCAPE Key = 256
	KEY_TAB    Key = 258
	KEY_RIGHT  Key = 262
	KEY_LEFT   Key = 263
	KEY_DOWN   Key = 264
	KEY_UP     Key = 265
)

// Input is the keyboard and mouse state of the current frame.
type Input interface {
	IsKeyDown(key Key) bool
	// MouseDelta is the cursor movement since the previous frame, in
	// pixels, while the right button is held.
	MouseDelta() (float64, float64)
}
