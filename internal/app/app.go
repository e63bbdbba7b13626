// Package app wires configuration, stores and services into the HTTP
// handlers shared by every lambda function and the dev server.
package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/psibackend/internal/accounts"
	"github.com/psibackend/internal/anamnesis"
	"github.com/psibackend/internal/api"
	"github.com/psibackend/internal/auth"
	"github.com/psibackend/internal/cache"
	"github.com/psibackend/internal/config"
	"github.com/psibackend/internal/consultations"
	"github.com/psibackend/internal/credits"
	"github.com/psibackend/internal/db"
	"github.com/psibackend/internal/encryption"
	"github.com/psibackend/internal/gateway"
	"github.com/psibackend/internal/idempotency"
	"github.com/psibackend/internal/llm"
	"github.com/psibackend/internal/logging"
	"github.com/psibackend/internal/patients"
	"github.com/psibackend/internal/payments"
	"github.com/psibackend/internal/records"
	"github.com/psibackend/internal/storage"
)

// Handlers holds one handler per API Gateway route.
type Handlers struct {
	Register            api.Handler
	Login               api.Handler
	AnamnesisLink       api.Handler
	ValidateAnamnesis   api.Handler
	SubmitAnamnesis     api.Handler
	Patients            api.Handler
	ClinicalRecord      api.Handler
	Consultations       api.Handler
	PsicochatInsight    api.Handler
	AnamnesisInsight    api.Handler
	PsicochatTranscript api.Handler
	PsicochatPeer       api.Handler
	PatientDocument     api.Handler
	CreditsBalance      api.Handler
	SavePayment         api.Handler
	PaymentStatus       api.Handler
}

type App struct {
	Config   *config.Config
	Log      *logrus.Logger
	Handlers Handlers

	db    *sqlx.DB
	redis *redis.Client
}

// New loads the configuration from the environment and builds the App.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return Build(ctx, cfg, logging.New(cfg.LogLevel))
}

// Build connects every backing store named by cfg. Redis and object storage
// are optional; their routes answer 503 when unset.
func Build(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, db: conn}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cipher, err := newCipher(ctx, awsCfg, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	var transcripts api.Transcripts
	var peers api.Peers
	if cfg.RedisEnabled() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		transcripts = cache.NewTranscriptStore(a.redis, cfg.TranscriptTTL, cfg.TranscriptMaxBytes)
		peers = cache.NewPeerStore(a.redis, cfg.PeerTTL)
	}

	var documents api.DocumentStore
	if cfg.StorageEnabled() {
		store, err := storage.NewDocumentStore(ctx, cfg.StorageEndpoint, cfg.StorageAccessKey, cfg.StorageSecretKey, cfg.StorageBucket, cfg.StorageUseSSL)
		if err != nil {
			a.Close()
			return nil, err
		}
		documents = store
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)

	var signer *anamnesis.Signer
	if cfg.LinkSecret != "" {
		signer = anamnesis.NewSigner(cfg.LinkSecret)
	}
	links := anamnesis.NewService(anamnesis.NewPostgresStore(conn), cipher, log, anamnesis.Options{
		Window:  cfg.LinkWindow,
		BaseURL: cfg.PublicBaseURL,
		Signer:  signer,
	})

	ledger := credits.NewLedger(credits.NewPostgresStore(conn), log)
	accountSvc := accounts.NewService(accounts.NewPostgresStore(conn), log)
	patientSvc := patients.NewService(patients.NewPostgresStore(conn), log)
	recordSvc := records.NewService(records.NewPostgresStore(conn), patientSvc, cipher, log)
	consultationSvc := consultations.NewService(consultations.NewPostgresStore(conn), patientSvc, log)
	idem := idempotency.NewIdempotencyService(awsCfg, cfg.IdempotencyTable, log)
	paymentSvc := payments.NewService(payments.NewPostgresStore(conn), ledger, idem, log)
	docs := llm.NewDocumentService(llm.NewBedrockModel(awsCfg, cfg.BedrockModelID, cfg.BedrockMaxTokens), ledger, cfg.GenerationCost, log)

	a.Handlers = Handlers{
		Register:            api.NewRegisterHandler(accountSvc, issuer, log),
		Login:               api.NewLoginHandler(accountSvc, issuer, log),
		AnamnesisLink:       api.NewAnamnesisLinkHandler(links, issuer, log),
		ValidateAnamnesis:   api.NewValidateAnamnesisHandler(links, log),
		SubmitAnamnesis:     api.NewSubmitAnamnesisHandler(links, log),
		Patients:            api.NewPatientsHandler(patientSvc, issuer, log),
		ClinicalRecord:      api.NewClinicalRecordHandler(recordSvc, issuer, log),
		Consultations:       api.NewConsultationsHandler(consultationSvc, issuer, log),
		PsicochatInsight:    api.NewPsicochatInsightHandler(docs, accountSvc, transcripts, issuer, log),
		AnamnesisInsight:    api.NewAnamnesisInsightHandler(docs, accountSvc, links, issuer, log),
		PsicochatTranscript: api.NewPsicochatTranscriptHandler(transcripts, issuer, log),
		PsicochatPeer:       api.NewPsicochatPeerHandler(peers, issuer, log),
		PatientDocument:     api.NewPatientDocumentHandler(documents, patientSvc, issuer, log),
		CreditsBalance:      api.NewCreditsBalanceHandler(ledger, issuer, log),
		SavePayment:         api.NewSavePaymentHandler(paymentSvc, issuer, log),
		PaymentStatus:       api.NewPaymentStatusHandler(paymentSvc, issuer, log),
	}
	return a, nil
}

func newCipher(ctx context.Context, awsCfg aws.Config, cfg *config.Config, log logrus.FieldLogger) (encryption.Cipher, error) {
	if cfg.KMSKeyID == "" {
		log.Warn("KMS_KEY_ID not set, clinical content is stored unencrypted")
		return encryption.NoopCipher{}, nil
	}
	client, err := encryption.NewKMSClient(awsCfg, cfg.KMSKeyID)
	if err != nil {
		return nil, err
	}
	if err := client.ValidateKMSKey(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Routes maps every API Gateway path to its handler.
func (a *App) Routes() []gateway.Route {
	h := a.Handlers
	return []gateway.Route{
		{Path: "/api/register", Handler: h.Register},
		{Path: "/api/login", Handler: h.Login},
		{Path: "/api/internal/gerar-link-anamnese", Handler: h.AnamnesisLink},
		{Path: "/api/validar-anamnese", Handler: h.ValidateAnamnesis, Limited: true},
		{Path: "/api/anamnese", Handler: h.SubmitAnamnesis},
		{Path: "/api/internal/pacientes", Handler: h.Patients},
		{Path: "/api/internal/prontuario", Handler: h.ClinicalRecord},
		{Path: "/api/internal/consultas", Handler: h.Consultations},
		{Path: "/api/internal/insight/psicochat", Handler: h.PsicochatInsight},
		{Path: "/api/internal/insight/anamnese", Handler: h.AnamnesisInsight},
		{Path: "/api/internal/psicochat/transcricao", Handler: h.PsicochatTranscript},
		{Path: "/api/internal/psicochat/peer", Handler: h.PsicochatPeer},
		{Path: "/api/internal/documentos", Handler: h.PatientDocument},
		{Path: "/api/internal/creditos", Handler: h.CreditsBalance},
		{Path: "/api/internal/payments/savepay", Handler: h.SavePayment},
		{Path: "/api/internal/payments/compra-status", Handler: h.PaymentStatus},
	}
}

func (a *App) Close() error {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
