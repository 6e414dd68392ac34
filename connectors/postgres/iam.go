package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/jackc/pgx/v5"
)

const defaultRoleSessionName = "dw-rds-iam"

// rdsIAMTokenProvider swaps the connection password for a signed RDS auth token.
type rdsIAMTokenProvider struct {
	cfg    aws.Config
	region string
}

func newRDSIAMTokenProvider(ctx context.Context, settings Settings) (*rdsIAMTokenProvider, error) {
	if !settings.IAM.Enabled {
		return nil, nil
	}
	iam, err := resolveIAMSettings(settings.IAM, settings.Host)
	if err != nil {
		return nil, err
	}

	loader := []func(*config.LoadOptions) error{
		config.WithRegion(iam.Region),
	}
	if iam.Profile != "" {
		loader = append(loader, config.WithSharedConfigProfile(iam.Profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loader...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if iam.RoleARN != "" {
		stsClient := sts.NewFromConfig(cfg)
		roleProvider := stscreds.NewAssumeRoleProvider(stsClient, iam.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = iam.RoleSessionName
			if iam.RoleExternalID != "" {
				o.ExternalID = aws.String(iam.RoleExternalID)
			}
		})
		cfg.Credentials = aws.NewCredentialsCache(roleProvider)
	}
	if iam.Endpoint != "" {
		cfg.BaseEndpoint = aws.String(iam.Endpoint)
	}

	return &rdsIAMTokenProvider{cfg: cfg, region: iam.Region}, nil
}

// BeforeConnect injects a fresh token for every new physical connection.
func (p *rdsIAMTokenProvider) BeforeConnect(ctx context.Context, connCfg *pgx.ConnConfig) error {
	token, err := p.Token(ctx, connCfg.Host, connCfg.Port, connCfg.User)
	if err != nil {
		return err
	}
	connCfg.Password = token
	return nil
}

// Token returns a signed auth token for the given endpoint and user.
func (p *rdsIAMTokenProvider) Token(ctx context.Context, host string, port uint16, user string) (string, error) {
	if p == nil {
		return "", errors.New("rds iam provider not configured")
	}
	if host == "" || strings.HasPrefix(host, "/") {
		return "", fmt.Errorf("rds iam requires a TCP hostname (got %q)", host)
	}
	if port == 0 {
		return "", errors.New("rds iam requires a port")
	}
	if user == "" {
		return "", errors.New("rds iam requires a user")
	}

	endpoint := fmt.Sprintf("https://%s:%d", host, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build rds request: %w", err)
	}
	query := req.URL.Query()
	query.Set("Action", "connect")
	query.Set("DBUser", user)
	query.Set("X-Amz-Expires", "900")
	req.URL.RawQuery = query.Encode()

	creds, err := p.cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("retrieve aws credentials: %w", err)
	}

	payloadHash := sha256.Sum256(nil)
	signer := v4.NewSigner()
	signedURL, _, err := signer.PresignHTTP(ctx, creds, req, hex.EncodeToString(payloadHash[:]), "rds-db", p.region, time.Now())
	if err != nil {
		return "", fmt.Errorf("sign rds auth token: %w", err)
	}

	return strings.TrimPrefix(signedURL, "https://"), nil
}

func resolveIAMSettings(iam IAMSettings, host string) (IAMSettings, error) {
	iam.Region = strings.TrimSpace(iam.Region)
	if iam.Region == "" {
		iam.Region = inferAWSRegionFromHost(host)
	}
	if iam.Region == "" {
		return iam, errors.New("aws region is required when rds iam auth is enabled")
	}
	if iam.RoleARN != "" && iam.RoleSessionName == "" {
		iam.RoleSessionName = defaultRoleSessionName
	}
	return iam, nil
}

// inferAWSRegionFromHost reads the region from an RDS endpoint such as
// db.abc123.eu-west-1.rds.amazonaws.com.
func inferAWSRegionFromHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.Split(host, ":")[0]
	parts := strings.Split(host, ".")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "rds" {
			return parts[i-1]
		}
	}
	return ""
}
