// Package auth resolves the generation-service API key and checks it
// against the live service. Every failure is a configuration error.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/model"
)

const (
	credentialDir  = ".tryon-pipeline"
	credentialFile = "credentials.gpg"

	// DefaultSSMParam is the parameter read when SSM_API_KEY_PARAM is unset.
	DefaultSSMParam = "/tryon-pipeline/prod/gemini-api-key"
)

// ErrNoAPIKey is wrapped by the error returned when no key source yields a key.
var ErrNoAPIKey = errors.New("API key not found")

// ParameterGetter is the subset of the SSM client used to read the key.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// GetAPIKey retrieves the API key from available sources.
// Priority order:
//  1. GEMINI_API_KEY environment variable
//  2. GPG-encrypted file at ~/.tryon-pipeline/credentials.gpg
func GetAPIKey() (string, error) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, nil
	}

	key, err := getFromGPG()
	if err == nil && key != "" {
		log.Debug().Msg("Using API key from GPG encrypted file")
		return key, nil
	}

	log.Debug().Err(err).Msg("No API key in environment or GPG credentials")
	return "", model.NewError(model.KindConfiguration, "auth",
		"set GEMINI_API_KEY or store the key in ~/"+credentialDir+"/"+credentialFile, ErrNoAPIKey)
}

// GetAPIKeyFromSSM reads the API key from SSM Parameter Store. An empty
// param selects DefaultSSMParam.
func GetAPIKeyFromSSM(ctx context.Context, client ParameterGetter, param string) (string, error) {
	if param == "" {
		param = DefaultSSMParam
	}
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &param,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", model.NewError(model.KindConfiguration, "auth", "failed to read API key parameter "+param, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return "", model.NewError(model.KindConfiguration, "auth", "API key parameter "+param+" is empty", ErrNoAPIKey)
	}
	log.Debug().Str("param", param).Dur("elapsed", time.Since(start)).Msg("API key loaded from SSM")
	return aws.ToString(result.Parameter.Value), nil
}

// getFromGPG decrypts the API key from the GPG-encrypted credentials file.
func getFromGPG() (string, error) {
	credPath, err := getCredentialPath()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(credPath); os.IsNotExist(err) {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")

	args := []string{"--decrypt", "--quiet"}
	if passphrasePath, ok := getPassphrasePath(); ok {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", passphrasePath)
	}
	args = append(args, credPath)

	output, err := exec.Command("gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", string(exitErr.Stderr))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// getCredentialPath returns the full path to the credentials file.
func getCredentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}

// getPassphrasePath returns the .gpg-passphrase file in the working
// directory when it exists and is readable by its owner only.
func getPassphrasePath() (string, bool) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	path := filepath.Join(cwd, ".gpg-passphrase")
	fi, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	if mode := fi.Mode().Perm(); mode&0077 != 0 {
		log.Warn().
			Str("passphrase_file", path).
			Str("permissions", fmt.Sprintf("%04o", mode)).
			Msg("Passphrase file has insecure permissions (should be 0600); skipping")
		return "", false
	}
	return path, true
}
