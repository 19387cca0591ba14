package logging

import (
	"bytes"
	"runtime"
	"strconv"
	"strings"
)

// goroutineID parses the id out of the "goroutine N [running]:" header.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	field := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(field, ' '); i > 0 {
		field = field[:i]
	}
	id, err := strconv.ParseInt(string(field), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// caller returns the class and method of the function skip frames above the
// function calling caller.
func caller(skip int) (class, method string) {
	pc, _, _, ok := runtime.Caller(skip + 1)
	if !ok {
		return "", ""
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "", ""
	}
	return splitFuncName(fn.Name())
}

// splitFuncName turns "logpipe/internal/app.(*Pipeline).Apply" into
// ("app.Pipeline", "Apply") and "main.main" into ("main", "main").
func splitFuncName(name string) (class, method string) {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}

	pkg, rest, found := strings.Cut(name, ".")
	if !found {
		return "", name
	}

	if strings.HasPrefix(rest, "(") {
		receiver, fn, ok := strings.Cut(rest, ").")
		if ok {
			receiver = strings.TrimPrefix(strings.TrimPrefix(receiver, "("), "*")
			return pkg + "." + receiver, fn
		}
	}

	// Value receivers appear as "Type.Method"; closures as "Func.funcN".
	if receiver, fn, ok := strings.Cut(rest, "."); ok && !strings.HasPrefix(fn, "func") {
		return pkg + "." + receiver, fn
	}
	return pkg, rest
}
