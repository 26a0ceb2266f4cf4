package app

import (
	"bytes"
	"errors"
	"flag"
	"testing"
)

func TestParseCommand_DefaultsToRun(t *testing.T) {
	cmd, rest := ParseCommand([]string{})
	if cmd != CommandRun {
		t.Errorf("ParseCommand([]) = %q, want %q", cmd, CommandRun)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %v, want empty", rest)
	}
}

func TestParseCommand_Run(t *testing.T) {
	cmd, rest := ParseCommand([]string{"run", "--max-workers", "3"})
	if cmd != CommandRun {
		t.Errorf("ParseCommand([run]) = %q, want %q", cmd, CommandRun)
	}
	if len(rest) != 2 || rest[0] != "--max-workers" {
		t.Errorf("rest = %v, want [--max-workers 3]", rest)
	}
}

func TestParseCommand_Migrate(t *testing.T) {
	cmd, _ := ParseCommand([]string{"migrate"})
	if cmd != CommandMigrate {
		t.Errorf("ParseCommand([migrate]) = %q, want %q", cmd, CommandMigrate)
	}
}

func TestParseCommand_FlagsWithoutSubcommand(t *testing.T) {
	cmd, rest := ParseCommand([]string{"--feed-file", "feeds.yaml"})
	if cmd != CommandRun {
		t.Errorf("ParseCommand([--feed-file ...]) = %q, want %q", cmd, CommandRun)
	}
	if len(rest) != 2 {
		t.Errorf("rest = %v, want flags to be kept", rest)
	}
}

func TestParseOptions(t *testing.T) {
	var buf bytes.Buffer
	opts, err := ParseOptions(&buf, []string{"--feed-file", "feeds.yaml", "--max-workers", "4", "--log-level", "DEBUG"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := Options{FeedFile: "feeds.yaml", MaxWorkers: 4, LogLevel: "DEBUG"}
	if opts != want {
		t.Errorf("opts = %+v, want %+v", opts, want)
	}
}

func TestParseOptions_Empty(t *testing.T) {
	var buf bytes.Buffer
	opts, err := ParseOptions(&buf, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if opts != (Options{}) {
		t.Errorf("opts = %+v, want zero", opts)
	}
}

func TestParseOptions_UnknownFlag(t *testing.T) {
	var buf bytes.Buffer
	if _, err := ParseOptions(&buf, []string{"--verbose"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if buf.Len() == 0 {
		t.Error("expected usage to be written")
	}
}

func TestParseOptions_Help(t *testing.T) {
	var buf bytes.Buffer
	_, err := ParseOptions(&buf, []string{"-h"})
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("err = %v, want flag.ErrHelp", err)
	}
}
