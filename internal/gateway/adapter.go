package gateway

import (
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/psibackend/internal/api"
	"github.com/psibackend/internal/metrics"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 16 << 20

// ToProxyRequest builds the API Gateway event a lambda would receive for r.
func ToProxyRequest(r *http.Request) (events.APIGatewayProxyRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return events.APIGatewayProxyRequest{}, err
	}

	headers := make(map[string]string, len(r.Header))
	multiHeaders := make(map[string][]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ",")
		multiHeaders[k] = v
	}

	params := map[string]string{}
	multiParams := map[string][]string{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
		multiParams[k] = v
	}

	resource := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		resource = rctx.RoutePattern()
	}

	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	req := events.APIGatewayProxyRequest{
		Resource:                        resource,
		Path:                            r.URL.Path,
		HTTPMethod:                      r.Method,
		Headers:                         headers,
		MultiValueHeaders:               multiHeaders,
		QueryStringParameters:           params,
		MultiValueQueryStringParameters: multiParams,
		Body:                            string(body),
	}
	req.RequestContext.RequestID = requestID
	req.RequestContext.HTTPMethod = r.Method
	req.RequestContext.Path = r.URL.Path
	req.RequestContext.Identity.SourceIP = remoteIP(r)
	req.RequestContext.Identity.UserAgent = r.UserAgent()
	return req, nil
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Adapt serves a lambda handler over plain HTTP.
func Adapt(h api.Handler, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := ToProxyRequest(r)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		resp, err := h.Handle(r.Context(), req)
		if err != nil {
			log.WithError(err).WithField("route", req.Resource).Error("handler returned an error")
			resp = events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: `{"error":"Internal server error"}`}
		}
		if resp.StatusCode == 0 {
			resp.StatusCode = http.StatusOK
		}

		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		for k, vs := range resp.MultiValueHeaders {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.WriteString(w, resp.Body)

		metrics.RecordHTTPRequest(r.Method, req.Resource, resp.StatusCode)
	}
}
