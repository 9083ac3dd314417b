package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"google.golang.org/genai"

	"github.com/fpang/tryon-pipeline/internal/model"
)

func TestGetAPIKeyFromEnv(t *testing.T) {
	const testKey = "test-api-key-12345"
	t.Setenv("GEMINI_API_KEY", testKey)

	key, err := GetAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != testKey {
		t.Errorf("expected key %q, got %q", testKey, key)
	}
}

func TestGetAPIKeyNoSource(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("HOME", t.TempDir())

	_, err := GetAPIKey()
	if !model.IsKind(err, model.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey in chain, got %v", err)
	}
}

func TestGetCredentialPath(t *testing.T) {
	path, err := getCredentialPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	home, _ := os.UserHomeDir()
	expected := filepath.Join(home, ".tryon-pipeline", "credentials.gpg")
	if path != expected {
		t.Errorf("expected path %q, got %q", expected, path)
	}
}

func TestGetFromGPGFileNotFound(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if _, err := getFromGPG(); err == nil {
		t.Error("expected error when credentials file does not exist")
	}
}

type fakeSSM struct {
	values map[string]string
	gotDec bool
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.gotDec = aws.ToBool(in.WithDecryption)
	v, ok := f.values[aws.ToString(in.Name)]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String(v)}}, nil
}

func TestGetAPIKeyFromSSM(t *testing.T) {
	client := &fakeSSM{values: map[string]string{
		DefaultSSMParam: "default-key",
		"/custom/key":   "custom-key",
		"/empty/key":    "",
	}}

	tests := []struct {
		name    string
		param   string
		want    string
		wantErr bool
	}{
		{"default param", "", "default-key", false},
		{"custom param", "/custom/key", "custom-key", false},
		{"missing param", "/missing", "", true},
		{"empty value", "/empty/key", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetAPIKeyFromSSM(context.Background(), client, tt.param)
			if tt.wantErr {
				if !model.IsKind(err, model.KindConfiguration) {
					t.Errorf("expected configuration error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if !client.gotDec {
				t.Error("expected WithDecryption")
			}
		})
	}
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		code int
		want model.ErrorKind
	}{
		{400, model.KindConfiguration},
		{401, model.KindConfiguration},
		{403, model.KindConfiguration},
		{429, model.KindNetwork},
		{503, model.KindNetwork},
		{418, model.KindNetwork},
	}
	for _, tt := range tests {
		err := classifyError(&genai.APIError{Code: tt.code, Message: "boom"})
		if err.Kind != tt.want {
			t.Errorf("code %d: kind = %v, want %v", tt.code, err.Kind, tt.want)
		}
	}
}

func TestClassifyErrorMessages(t *testing.T) {
	tests := []struct {
		msg  string
		want model.ErrorKind
	}{
		{"API key not valid. Please pass a valid API key.", model.KindConfiguration},
		{"Resource exhausted: quota", model.KindNetwork},
		{"dial tcp: no such host", model.KindNetwork},
		{"something odd", model.KindNetwork},
	}
	for _, tt := range tests {
		if got := classifyError(errors.New(tt.msg)).Kind; got != tt.want {
			t.Errorf("%q: kind = %v, want %v", tt.msg, got, tt.want)
		}
	}
}
