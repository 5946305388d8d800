// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/hoydtu/pkg/config"
)

func TestInit_Levels(t *testing.T) {
	tests := []struct {
		level   string
		want    logrus.Level
		wantErr bool
	}{
		{"debug", logrus.DebugLevel, false},
		{"warn", logrus.WarnLevel, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			err := initWith(config.LogConfig{Level: tt.level}, &bytes.Buffer{})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if Get().GetLevel() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, Get().GetLevel())
			}
		})
	}
}

func TestInit_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := initWith(config.LogConfig{Level: "info", Format: "JSON"}, &buf); err != nil {
		t.Fatal(err)
	}
	Get().WithField("serial", "112100001234").Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON line, got %q", buf.String())
	}
	if entry["serial"] != "112100001234" || entry["msg"] != "hello" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hoydtu.log")
	var console bytes.Buffer
	if err := initWith(config.LogConfig{Level: "info", FilePath: path, MaxSizeMB: 1}, &console); err != nil {
		t.Fatal(err)
	}
	Get().Info("to both")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "to both") || !strings.Contains(console.String(), "to both") {
		t.Errorf("entry missing: file %q console %q", data, console.String())
	}
}

func TestHexDump(t *testing.T) {
	var buf bytes.Buffer
	if err := initWith(config.LogConfig{Level: "debug", HexDump: true}, &buf); err != nil {
		t.Fatal(err)
	}
	if !HexDumpEnabled() {
		t.Error("hex dump should be enabled")
	}

	HexDump(Get(), "tx", []byte{0x15, 0x7E, 0x00})
	out := buf.String()
	if !strings.Contains(out, "15 7E 00") || !strings.Contains(out, "dir=tx") || !strings.Contains(out, "len=3") {
		t.Errorf("unexpected dump: %q", out)
	}
}
