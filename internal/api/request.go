package api

import (
	"context"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/psibackend/internal/auth"
)

// Handler is implemented by every endpoint. It is what lambda.Start and the
// dev server adapter invoke.
type Handler interface {
	Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)
}

// header looks a header up case-insensitively; API Gateway keeps the
// client's casing.
func header(req events.APIGatewayProxyRequest, name string) string {
	if v, ok := req.Headers[name]; ok {
		return v
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// ClientIP is the first X-Forwarded-For hop, else the API Gateway source IP.
func ClientIP(req events.APIGatewayProxyRequest) string {
	if fwd := header(req, "X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return req.RequestContext.Identity.SourceIP
}

func query(req events.APIGatewayProxyRequest, name string) string {
	return strings.TrimSpace(req.QueryStringParameters[name])
}

// authenticate validates the bearer token and checks the capability.
func authenticate(issuer *auth.Issuer, req events.APIGatewayProxyRequest, c auth.Capability) (*auth.Claims, error) {
	claims, err := issuer.ValidateToken(header(req, "Authorization"))
	if err != nil {
		return nil, err
	}
	if err := auth.Authorize(claims, c); err != nil {
		return nil, err
	}
	return claims, nil
}
