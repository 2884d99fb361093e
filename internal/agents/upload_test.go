package agents

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"FansDFS/internal/command"
	xerrors "FansDFS/internal/errors"
	"FansDFS/internal/session"
)

func TestUploadSelectsThreadAttachment(t *testing.T) {
	agent := NewUploadAgent(UploadConfig{})
	sess := session.New("t1")
	sess.PutAttachment(session.Attachment{Filename: "track.mp3", Bytes: []byte("audio")})

	result := agent.Handle(context.Background(), command.New(command.VerbUploadFile), sess)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Patch.PendingSelection == nil || result.Patch.PendingSelection.Filename != "track.mp3" {
		t.Fatalf("unexpected pending selection: %+v", result.Patch.PendingSelection)
	}
	if !result.AwaitingInput {
		t.Fatal("upload must wait for confirmation")
	}
	if !strings.Contains(result.Reply, "Ready to process file track.mp3") {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}
}

func TestUploadFallsBackToDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "demo.mp3"), []byte("audio"), 0o644); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}
	agent := NewUploadAgent(UploadConfig{FallbackDir: dir})

	result := agent.Handle(context.Background(), command.New(command.VerbUploadFile), session.New("t1"))
	if result.Patch.PendingSelection == nil || result.Patch.PendingSelection.Filename != "demo.mp3" {
		t.Fatalf("unexpected pending selection: %+v", result.Patch.PendingSelection)
	}
	// 候选文件要随补丁进入线程，供后续的存储流水线读取。
	if len(result.Patch.Attachments) != 1 || result.Patch.Attachments[0].Filename != "demo.mp3" {
		t.Fatalf("fallback file missing from patch: %+v", result.Patch.Attachments)
	}
}

func TestUploadWithoutCandidate(t *testing.T) {
	agent := NewUploadAgent(UploadConfig{})

	result := agent.Handle(context.Background(), command.New(command.VerbUploadFile), session.New("t1"))
	if result.Patch.PendingSelection != nil {
		t.Fatal("no candidate should leave pending selection unset")
	}
	if !strings.Contains(result.Reply, "No .mp3 file found") {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}
}

func TestUploadConfirmWithoutSelection(t *testing.T) {
	agent := NewUploadAgent(UploadConfig{})

	cmd := command.New(command.VerbConfirm, command.ArgConfirmed, "true")
	result := agent.Handle(context.Background(), cmd, session.New("t1"))
	if xerrors.CodeOf(result.Err) != xerrors.CodeNoPendingSelection {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(result.Err))
	}
	if !strings.Contains(result.Reply, "No file verified") {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}
}

func TestUploadConfirmYesHandsOffToStorage(t *testing.T) {
	agent := NewUploadAgent(UploadConfig{})
	sess := session.New("t1")
	sess.PendingSelection = &session.PendingSelection{Filename: "track.mp3"}

	cmd := command.New(command.VerbConfirm,
		command.ArgConfirmed, "true",
		command.ArgSignerID, "alice.testnet",
	)
	result := agent.Handle(context.Background(), cmd, sess)
	if result.HandOff == nil || result.HandOff.Target != command.AgentStorage {
		t.Fatalf("expected hand-off to storage, got %+v", result.HandOff)
	}
	process := result.HandOff.Command
	if process.Verb != command.VerbProcessFile || process.Arg(command.ArgFilename) != "track.mp3" {
		t.Fatalf("unexpected process command: %+v", process)
	}
	if process.Arg(command.ArgSignerID) != "alice.testnet" {
		t.Fatal("signer must travel with the hand-off")
	}
	if !result.Patch.ClearPendingSelection {
		t.Fatal("confirmation must clear the pending selection")
	}
}

func TestUploadConfirmNoCancels(t *testing.T) {
	agent := NewUploadAgent(UploadConfig{})
	sess := session.New("t1")
	sess.PendingSelection = &session.PendingSelection{Filename: "track.mp3"}

	cmd := command.New(command.VerbConfirm, command.ArgConfirmed, "false")
	result := agent.Handle(context.Background(), cmd, sess)
	if result.HandOff != nil {
		t.Fatal("cancellation must not hand off")
	}
	if !result.Patch.ClearPendingSelection {
		t.Fatal("cancellation must clear the pending selection")
	}
	if !strings.Contains(result.Reply, "Operation cancelled") {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}
}
