package encryption

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Cipher encrypts PHI fields before they reach the database.
type Cipher interface {
	EncryptPHI(ctx context.Context, plaintext string) (string, error)
	DecryptPHI(ctx context.Context, ciphertext string) (string, error)
}

// kmsAPI is the subset of *kms.Client used here.
type kmsAPI interface {
	Encrypt(ctx context.Context, in *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
	DescribeKey(ctx context.Context, in *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

type KMSClient struct {
	client kmsAPI
	keyID  string
}

// encryptionContext must match between Encrypt and Decrypt.
var encryptionContext = map[string]string{
	"Purpose": "PHI-Encryption",
	"Service": "Psi-Backend",
}

func NewKMSClient(cfg aws.Config, keyID string) (*KMSClient, error) {
	if keyID == "" {
		return nil, fmt.Errorf("KMS_KEY_ID environment variable is required")
	}
	return &KMSClient{
		client: kms.NewFromConfig(cfg),
		keyID:  keyID,
	}, nil
}

// EncryptPHI encrypts PHI data using AWS KMS
func (k *KMSClient) EncryptPHI(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	input := &kms.EncryptInput{
		KeyId:             aws.String(k.keyID),
		Plaintext:         []byte(plaintext),
		EncryptionContext: encryptionContext,
	}

	result, err := k.client.Encrypt(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt PHI: %w", err)
	}

	// Return base64 encoded ciphertext
	return base64.StdEncoding.EncodeToString(result.CiphertextBlob), nil
}

// DecryptPHI decrypts PHI data using AWS KMS
func (k *KMSClient) DecryptPHI(ctx context.Context, ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	ciphertextBlob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	input := &kms.DecryptInput{
		CiphertextBlob:    ciphertextBlob,
		EncryptionContext: encryptionContext,
	}

	result, err := k.client.Decrypt(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt PHI: %w", err)
	}

	return string(result.Plaintext), nil
}

// ValidateKMSKey validates that the KMS key exists and is accessible
func (k *KMSClient) ValidateKMSKey(ctx context.Context) error {
	_, err := k.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(k.keyID)})
	if err != nil {
		return fmt.Errorf("failed to validate KMS key %s: %w", k.keyID, err)
	}
	return nil
}

// NoopCipher stores values as-is. Only the dev server uses it, when no KMS key is configured.
type NoopCipher struct{}

func (NoopCipher) EncryptPHI(_ context.Context, plaintext string) (string, error) {
	return plaintext, nil
}

func (NoopCipher) DecryptPHI(_ context.Context, ciphertext string) (string, error) {
	return ciphertext, nil
}
