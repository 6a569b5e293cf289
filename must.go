package incmake

import "fmt"

// Must panics if err is not nil. Definition code typically runs during
// program initialization where an error means the build description
// itself is wrong.
func Must(err error) {
	if err != nil {
		panic(fmt.Sprintf("incmake: %v", err))
	}
}
