package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/psibackend/internal/auth"
	"github.com/psibackend/internal/logging"
	"github.com/sirupsen/logrus"
)

type Peers interface {
	Register(ctx context.Context, room, participant, peerID string) error
	Lookup(ctx context.Context, room string) (map[string]string, error)
}

type TranscriptChunk struct {
	SessionID string `json:"sessionId"`
	Chunk     string `json:"chunk"`
}

// PsicochatTranscriptHandler accumulates live transcript chunks (POST), reads
// them back (GET) and discards them (DELETE).
type PsicochatTranscriptHandler struct {
	transcripts Transcripts
	issuer      *auth.Issuer
	log         logrus.FieldLogger
}

func NewPsicochatTranscriptHandler(transcripts Transcripts, issuer *auth.Issuer, log logrus.FieldLogger) *PsicochatTranscriptHandler {
	return &PsicochatTranscriptHandler{transcripts: transcripts, issuer: issuer, log: log}
}

func (h *PsicochatTranscriptHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForRequest(h.log, req)
	claims, err := authenticate(h.issuer, req, auth.CapDocumentsGenerate)
	if err != nil {
		return errorResponse(log, err), nil
	}
	if h.transcripts == nil {
		return errorResponse(log, fmt.Errorf("%w: transcript store", errNotConfigured)), nil
	}

	switch req.HTTPMethod {
	case http.MethodPost:
		var in TranscriptChunk
		if err := decodeBody(req.Body, &in); err != nil {
			return errorResponse(log, err), nil
		}
		if in.SessionID == "" {
			return errorResponse(log, fmt.Errorf("%w: sessionId", errMissingParameter)), nil
		}
		size, err := h.transcripts.Append(ctx, claims.UserID, in.SessionID, in.Chunk)
		if err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusOK, map[string]int64{"size": size})

	case http.MethodGet:
		sessionID := query(req, "sessionId")
		if sessionID == "" {
			return errorResponse(log, errMissingParameter), nil
		}
		text, err := h.transcripts.Get(ctx, claims.UserID, sessionID)
		if err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusOK, map[string]string{"sessionId": sessionID, "transcript": text})

	case http.MethodDelete:
		sessionID := query(req, "sessionId")
		if sessionID == "" {
			return errorResponse(log, errMissingParameter), nil
		}
		if err := h.transcripts.Clear(ctx, claims.UserID, sessionID); err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusOK, map[string]bool{"success": true})
	}
	return errorResponse(log, errMethodNotAllowed), nil
}

type PeerRegistration struct {
	Room        string `json:"room"`
	Participant string `json:"participant"`
	PeerID      string `json:"peerId"`
}

// PsicochatPeerHandler lets both ends of a video session publish (PUT) and
// discover (GET) their WebRTC peer ids.
type PsicochatPeerHandler struct {
	peers  Peers
	issuer *auth.Issuer
	log    logrus.FieldLogger
}

func NewPsicochatPeerHandler(peers Peers, issuer *auth.Issuer, log logrus.FieldLogger) *PsicochatPeerHandler {
	return &PsicochatPeerHandler{peers: peers, issuer: issuer, log: log}
}

func (h *PsicochatPeerHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForRequest(h.log, req)
	claims, err := authenticate(h.issuer, req, auth.CapSessionsJoin)
	if err != nil {
		return errorResponse(log, err), nil
	}
	if h.peers == nil {
		return errorResponse(log, fmt.Errorf("%w: peer store", errNotConfigured)), nil
	}

	switch req.HTTPMethod {
	case http.MethodPut:
		var in PeerRegistration
		if err := decodeBody(req.Body, &in); err != nil {
			return errorResponse(log, err), nil
		}
		if in.Participant == "" {
			in.Participant = claims.UserID
		}
		if err := h.peers.Register(ctx, in.Room, in.Participant, in.PeerID); err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusOK, map[string]bool{"success": true})

	case http.MethodGet:
		room := query(req, "room")
		if room == "" {
			return errorResponse(log, fmt.Errorf("%w: room", errMissingParameter)), nil
		}
		peers, err := h.peers.Lookup(ctx, room)
		if err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusOK, map[string]interface{}{"room": room, "peers": peers})
	}
	return errorResponse(log, errMethodNotAllowed), nil
}
