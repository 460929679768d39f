// Package sundaesecret provides AWS Secrets Manager integration for loading
// configuration secrets into Go structs.
package sundaesecret

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/savaki/secrets"
)

// LoadSecret decodes the JSON secret named secretName into data, which must
// be a pointer.
func LoadSecret(s *session.Session, secretName string, data interface{}) error {
	api := secrets.WithSecretsManager(secretsmanager.New(s))
	manager, err := secrets.NewManager(api)
	if err != nil {
		return fmt.Errorf("failed to initialize secrets: %w", err)
	}

	if err := manager.Decode(secretName, data); err != nil {
		return fmt.Errorf("failed to load secret %v: %w", secretName, err)
	}
	return nil
}

// Redis is the secret holding connection details for the group channel's
// Redis deployment.
type Redis struct {
	URL string `json:"url"`
}

// LoadRedisURL returns the Redis url stored in secretName.
func LoadRedisURL(s *session.Session, secretName string) (string, error) {
	var secret Redis
	if err := LoadSecret(s, secretName, &secret); err != nil {
		return "", err
	}
	if secret.URL == "" {
		return "", fmt.Errorf("secret %v has no redis url", secretName)
	}
	return secret.URL, nil
}

// Broadcast is the secret holding the bearer token of the broadcast API.
type Broadcast struct {
	Token string `json:"token"`
}

// LoadBroadcastToken returns the broadcast API token stored in secretName.
func LoadBroadcastToken(s *session.Session, secretName string) (string, error) {
	var secret Broadcast
	if err := LoadSecret(s, secretName, &secret); err != nil {
		return "", err
	}
	if secret.Token == "" {
		return "", fmt.Errorf("secret %v has no broadcast token", secretName)
	}
	return secret.Token, nil
}
