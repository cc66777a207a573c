package qbo

import (
	"testing"

	"golang.org/x/oauth2"
)

type tokenSourceFunc func() (*oauth2.Token, error)

func (f tokenSourceFunc) Token() (*oauth2.Token, error) { return f() }

func TestNotifyingSourceReportsRotation(t *testing.T) {
	tokens := []*oauth2.Token{
		{AccessToken: "a1", RefreshToken: "r0"},
		{AccessToken: "a2", RefreshToken: "r0"},
		{AccessToken: "a3", RefreshToken: "r1"},
		{AccessToken: "a4", RefreshToken: "r1"},
	}
	i := 0
	var rotated []string
	src := &notifyingSource{
		src: tokenSourceFunc(func() (*oauth2.Token, error) {
			tok := tokens[i]
			i++
			return tok, nil
		}),
		last:     "r0",
		onRotate: func(rt string) { rotated = append(rotated, rt) },
	}
	for range tokens {
		if _, err := src.Token(); err != nil {
			t.Fatalf("Token() error = %v", err)
		}
	}
	if len(rotated) != 1 || rotated[0] != "r1" {
		t.Errorf("rotations = %v, want [r1]", rotated)
	}
}

func TestNotifyingSourceKeepsEmptyRefresh(t *testing.T) {
	var rotated []string
	src := &notifyingSource{
		src: tokenSourceFunc(func() (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "a1"}, nil
		}),
		last:     "r0",
		onRotate: func(rt string) { rotated = append(rotated, rt) },
	}
	if _, err := src.Token(); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if len(rotated) != 0 {
		t.Errorf("rotations = %v, want none for empty refresh token", rotated)
	}
}
