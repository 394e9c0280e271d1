package utils

import (
	"fmt"
	"runtime"
	"strings"
)

// moduleName is the directory prefix kept when shortening caller paths
const moduleName = "vapor-chat"

// GetFileAndLoC returns the file path and line of code with skip being the number of stack frames to skip
func GetFileAndLoC(skip int) string {
	_, filepath, line, _ := runtime.Caller(1 + skip)

	// trim to only after the module root
	if i := strings.LastIndex(filepath, moduleName); i != -1 {
		filepath = filepath[i:]
	}

	return fmt.Sprintf(
		"%s:%d",
		filepath,
		line,
	)
}
