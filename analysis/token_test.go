package analysis

import (
	"context"
	"testing"
)

func TestCancellationToken(t *testing.T) {
	token := NewCancellationToken(context.Background())
	if token.Cancelled() {
		t.Fatal("new token reports cancelled")
	}

	token.Cancel()
	token.Cancel()

	if !token.Cancelled() {
		t.Error("Cancelled() = false after Cancel")
	}
	if token.Context().Err() == nil {
		t.Error("token context not cancelled")
	}
}

func TestCancellationToken_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	token := NewCancellationToken(parent)
	cancel()

	if !token.Cancelled() {
		t.Error("Cancelled() = false after parent cancel")
	}
}

func TestCancellationToken_Nil(t *testing.T) {
	var token *CancellationToken
	if !token.Cancelled() {
		t.Error("nil token should report cancelled")
	}
}
