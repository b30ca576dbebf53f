package runtimex

import (
	"errors"
	"testing"
)

func TestPanicOnError(t *testing.T) {
	badfunc := func(in error) (out error) {
		defer func() {
			out = recover().(error)
		}()
		PanicOnError(in, "mocked message")
		return
	}

	t.Run("does not panic with nil error", func(t *testing.T) {
		PanicOnError(nil, "this should not happen")
	})

	t.Run("panics on error", func(t *testing.T) {
		expected := errors.New("mocked error")
		out := badfunc(expected)
		if !errors.Is(out, expected) {
			t.Fatal("not the error we expected", out)
		}
	})
}

func TestPanicIfFalse(t *testing.T) {
	badfunc := func(in bool, message string) (out string) {
		defer func() {
			out = recover().(string)
		}()
		PanicIfFalse(in, message)
		return
	}

	t.Run("does not panic when true", func(t *testing.T) {
		PanicIfFalse(true, "this should not happen")
	})

	t.Run("panics when false", func(t *testing.T) {
		message := "mocked message"
		out := badfunc(false, message)
		if out != message {
			t.Fatal("not the panic we expected", out)
		}
	})
}

func TestPanicIfTrue(t *testing.T) {
	badfunc := func(in bool, message string) (out string) {
		defer func() {
			out = recover().(string)
		}()
		PanicIfTrue(in, message)
		return
	}

	t.Run("does not panic when false", func(t *testing.T) {
		PanicIfTrue(false, "this should not happen")
	})

	t.Run("panics when true", func(t *testing.T) {
		message := "mocked message"
		out := badfunc(true, message)
		if out != message {
			t.Fatal("not the panic we expected", out)
		}
	})
}
