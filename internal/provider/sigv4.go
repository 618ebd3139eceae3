package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog/log"
)

// SigV4Signer signs upstream requests with AWS SigV4 for endpoints hosted
// behind AWS-authenticated infrastructure (e.g. Bedrock-compatible
// gateways). When configured, the upstream provider signs instead of
// forwarding an API key.
type SigV4Signer struct {
	creds      aws.CredentialsProvider
	signer     *v4.Signer
	region     string
	service    string
	configured bool
}

// NewSigV4Signer loads the ambient AWS credential chain for region. A
// missing credential chain is not an error: the signer reports
// !IsConfigured() and the provider falls back to API-key auth.
func NewSigV4Signer(ctx context.Context, region, service string) *SigV4Signer {
	if service == "" {
		service = "bedrock"
	}
	s := &SigV4Signer{signer: v4.NewSigner(), region: region, service: service}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		log.Debug().Err(err).Msg("sigv4: no AWS config available")
		return s
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		log.Debug().Err(err).Msg("sigv4: no AWS credentials available")
		return s
	}
	s.creds = cfg.Credentials
	s.configured = true
	return s
}

// IsConfigured reports whether a credential chain was found at startup.
func (s *SigV4Signer) IsConfigured() bool {
	return s != nil && s.configured
}

// SignRequest signs req in place over the given body.
func (s *SigV4Signer) SignRequest(ctx context.Context, req *http.Request, body []byte) error {
	creds, err := s.creds.Retrieve(ctx)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(body)
	return s.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), s.service, s.region, time.Now())
}
