package decode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arq-dashboard/internal/arqerrors"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "helper.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestDecodeJSONFirst(t *testing.T) {
	// A failing external helper proves JSON payloads never reach tier 3.
	script := writeScript(t, "#!/bin/sh\nexit 1\n")
	d := NewDecoder(NewExternalDecoder("/bin/sh", script, time.Second))

	fields, err := d.Decode(context.Background(), []byte(`{"function":"send_email","retry":2}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fields["function"] != "send_email" {
		t.Fatalf("function = %v", fields["function"])
	}
	if fields["retry"] != float64(2) {
		t.Fatalf("retry = %v (%T)", fields["retry"], fields["retry"])
	}
}

func TestDecodePickleSecond(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\nexit 1\n")
	d := NewDecoder(NewExternalDecoder("/bin/sh", script, time.Second))

	data := pickleStream(
		[]byte{opEmptyDict, opMark},
		binUnicode("function"), binUnicode("resize"),
		[]byte{opSetItems},
	)
	fields, err := d.Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fields["function"] != "resize" {
		t.Fatalf("function = %v", fields["function"])
	}
}

func TestDecodeExternalFallback(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\ncat > /dev/null\necho '{\"function\":\"from_helper\"}'\n")
	d := NewDecoder(NewExternalDecoder("/bin/sh", script, 5*time.Second))

	// GLOBAL opcode fails the in-process pickle tier; the bytes are not
	// valid JSON either, so only the helper can resolve them.
	data := []byte{opProto, 2, 'c', 'o', 's', '\n', 's', 'y', 's', 't', 'e', 'm', '\n', opStop}
	fields, err := d.Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fields["function"] != "from_helper" {
		t.Fatalf("function = %v", fields["function"])
	}
}

func TestDecodeUndecodable(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\nexit 1\n")
	d := NewDecoder(NewExternalDecoder("/bin/sh", script, time.Second))

	_, err := d.Decode(context.Background(), []byte{0x01, 0x02, 0x03})
	if !errors.Is(err, arqerrors.ErrUndecodable) {
		t.Fatalf("err = %v, want ErrUndecodable", err)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	d := NewDecoder(nil)
	_, err := d.Decode(context.Background(), nil)
	if !errors.Is(err, arqerrors.ErrUndecodable) {
		t.Fatalf("err = %v, want ErrUndecodable", err)
	}
}

func TestDecodeNonObjectJSONFallsThrough(t *testing.T) {
	d := NewDecoder(nil)
	_, err := d.Decode(context.Background(), []byte(`[1,2,3]`))
	if !errors.Is(err, arqerrors.ErrUndecodable) {
		t.Fatalf("err = %v, want ErrUndecodable", err)
	}
}

func TestExternalDecoderTimeout(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\nsleep 30\n")
	ext := NewExternalDecoder("/bin/sh", script, 100*time.Millisecond)

	start := time.Now()
	_, err := ext.Decode(context.Background(), []byte("x"))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
}

func TestExternalDecoderEmptyOutput(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\ncat > /dev/null\n")
	ext := NewExternalDecoder("/bin/sh", script, time.Second)

	if _, err := ext.Decode(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error for empty output")
	}
}
