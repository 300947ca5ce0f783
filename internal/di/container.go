package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"google.golang.org/api/option"

	"github.com/kapitalwerk/contract-api/internal/documents"
	"github.com/kapitalwerk/contract-api/internal/handlers"
	"github.com/kapitalwerk/contract-api/internal/platform/auth"
	"github.com/kapitalwerk/contract-api/internal/platform/config"
	pfirestore "github.com/kapitalwerk/contract-api/internal/platform/firestore"
	"github.com/kapitalwerk/contract-api/internal/platform/idempotency"
	"github.com/kapitalwerk/contract-api/internal/platform/jobs"
	"github.com/kapitalwerk/contract-api/internal/platform/observability"
	"github.com/kapitalwerk/contract-api/internal/platform/pdfform"
	"github.com/kapitalwerk/contract-api/internal/platform/secrets"
	platformstorage "github.com/kapitalwerk/contract-api/internal/platform/storage"
	"github.com/kapitalwerk/contract-api/internal/repositories"
	firestoreRepo "github.com/kapitalwerk/contract-api/internal/repositories/firestore"
	"github.com/kapitalwerk/contract-api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Documents services.DocumentService
	System    services.SystemService
}

// Deps carries the process-level collaborators created before the container.
type Deps struct {
	Logger  *zap.Logger
	Secrets *secrets.Fetcher
	Build   services.BuildInfo
}

// Container wires clients, repositories, services and routes for runtime use.
type Container struct {
	Config   config.Config
	Services Services
	Handler  http.Handler

	logger    *zap.Logger
	firestore *pfirestore.Provider
	storage   *gcs.Client
	pubsub    *pubsub.Client
	topic     *pubsub.Topic
}

// NewContainer constructs the runtime dependencies from cfg. Resources acquired before a
// failure are released before returning.
func NewContainer(ctx context.Context, cfg config.Config, deps Deps) (_ *Container, err error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Container{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Close(closeCtx)
		}
	}()

	clientOpts := credentialOptions(cfg.Firebase)
	c.firestore = pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOpts...))

	c.storage, err = gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("build storage client: %w", err)
	}
	blobs, err := platformstorage.NewBlobStore(c.storage, platformstorage.WithPublicBaseURL(cfg.Storage.PublicBaseURL))
	if err != nil {
		return nil, fmt.Errorf("build blob store: %w", err)
	}

	var publisher services.GenerationJobPublisher
	if topic := strings.TrimSpace(cfg.Jobs.Topic); topic != "" {
		c.pubsub, err = pubsub.NewClient(ctx, cfg.Jobs.ProjectID, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		c.topic = c.pubsub.Topic(topic)
		c.topic.EnableMessageOrdering = cfg.Jobs.Ordering
		pub, err := jobs.NewPubSubGenerationPublisher(c.topic)
		if err != nil {
			return nil, fmt.Errorf("build generation publisher: %w", err)
		}
		publisher = pub
	}

	investments, err := firestoreRepo.NewInvestmentRepository(c.firestore)
	if err != nil {
		return nil, fmt.Errorf("build investment repository: %w", err)
	}
	subjects, err := firestoreRepo.NewSubjectRepository(c.firestore)
	if err != nil {
		return nil, fmt.Errorf("build subject repository: %w", err)
	}

	catalogue, err := loadCatalogue(cfg.Documents)
	if err != nil {
		return nil, err
	}
	generator, err := buildGenerator(cfg, logger, blobs, catalogue, subjects, investments)
	if err != nil {
		return nil, err
	}

	c.Services.Documents, err = services.NewDocumentService(services.DocumentServiceDeps{
		Generator:   generator,
		Catalogue:   catalogue,
		Investments: investments,
		Publisher:   publisher,
		Clock:       time.Now,
		Logger:      observability.EventLogger(logger.Named("documents")),
	})
	if err != nil {
		return nil, fmt.Errorf("build document service: %w", err)
	}

	c.Services.System, err = c.buildSystemService(cfg, blobs, deps)
	if err != nil {
		return nil, fmt.Errorf("build system service: %w", err)
	}

	c.Handler, err = c.buildRouter(ctx, cfg, deps.Build)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Close releases clients owned by the container.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.topic != nil {
		c.topic.Stop()
	}
	if c.pubsub != nil {
		if err := c.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub: %w", err))
		}
	}
	if c.storage != nil {
		if err := c.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if c.firestore != nil {
		if err := c.firestore.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("firestore: %w", err))
		}
	}
	return errors.Join(errs...)
}

func credentialOptions(cfg config.FirebaseConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))}
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
	}
	return nil
}

func loadCatalogue(cfg config.DocumentsConfig) (*documents.Catalogue, error) {
	if path := strings.TrimSpace(cfg.CatalogueFile); path != "" {
		catalogue, err := documents.LoadCatalogue(path)
		if err != nil {
			return nil, fmt.Errorf("load catalogue %s: %w", path, err)
		}
		return catalogue, nil
	}
	catalogue, err := documents.DefaultCatalogue()
	if err != nil {
		return nil, fmt.Errorf("load embedded catalogue: %w", err)
	}
	return catalogue, nil
}

func buildGenerator(
	cfg config.Config,
	logger *zap.Logger,
	blobs *platformstorage.BlobStore,
	catalogue *documents.Catalogue,
	subjects documents.SubjectReader,
	investments *firestoreRepo.InvestmentRepository,
) (*documents.Generator, error) {
	docLog := documents.Logger(observability.EventLogger(logger.Named("documents")))

	tag, err := language.Parse(cfg.Documents.Locale)
	if err != nil {
		return nil, fmt.Errorf("documents locale: %w", err)
	}
	loc, err := time.LoadLocation(cfg.Documents.Timezone)
	if err != nil {
		return nil, fmt.Errorf("documents timezone: %w", err)
	}

	resolver, err := documents.NewTemplateResolver(blobs, catalogue,
		documents.WithDefaultBucket(cfg.Storage.TemplatesBucket),
		documents.WithParallelProbe(cfg.Documents.ParallelProbe),
		documents.WithResolverLogger(docLog),
	)
	if err != nil {
		return nil, fmt.Errorf("build template resolver: %w", err)
	}
	persister, err := documents.NewDocumentPersister(blobs, investments, cfg.Storage.DocumentsBucket)
	if err != nil {
		return nil, fmt.Errorf("build document persister: %w", err)
	}

	generator, err := documents.NewGenerator(documents.GeneratorDeps{
		Subjects:    subjects,
		Investments: investments,
		Catalogue:   catalogue,
		Resolver:    resolver,
		Opener:      pdfform.NewOpener(),
		Mapper: documents.NewFieldMapper(
			documents.WithMapperLocale(tag),
			documents.WithMapperLocation(loc),
			documents.WithMapperLogger(docLog),
		),
		Signatures: documents.NewSignatureEmbedder(docLog),
		Persister:  persister,
		Clock:      time.Now,
		Logger:     docLog,
	})
	if err != nil {
		return nil, fmt.Errorf("build generator: %w", err)
	}
	return generator, nil
}

func (c *Container) buildSystemService(cfg config.Config, blobs *platformstorage.BlobStore, deps Deps) (services.SystemService, error) {
	checks := []repositories.DependencyCheck{
		{Name: "firestore", Check: c.firestore.Ping},
		{Name: "templatesBucket", Check: func(ctx context.Context) error {
			return blobs.CheckBucket(ctx, cfg.Storage.TemplatesBucket)
		}},
		{Name: "documentsBucket", Check: func(ctx context.Context) error {
			return blobs.CheckBucket(ctx, cfg.Storage.DocumentsBucket)
		}},
	}
	if deps.Secrets != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check:   deps.Secrets.Check,
		})
	}
	if c.topic != nil {
		topic := c.topic
		checks = append(checks, repositories.DependencyCheck{
			Name: "jobsTopic",
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}

	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            deps.Build,
	})
}

func (c *Container) buildRouter(ctx context.Context, cfg config.Config, build services.BuildInfo) (http.Handler, error) {
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, fmt.Errorf("build firebase verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(verifier,
		auth.WithDefaultLocale(cfg.Documents.Locale),
		auth.WithRequireVerifiedEmail(cfg.Firebase.RequireVerifiedEmail),
	)

	documentHandlers := handlers.NewDocumentHandlers(authenticator, c.Services.Documents,
		handlers.WithGenerateMiddlewares(idempotency.Middleware(
			idempotency.NewFirestoreStore(c.firestore),
			idempotency.WithEventLogger(observability.EventLogger(c.logger.Named("idempotency"))),
		)),
	)

	projectID := strings.TrimSpace(cfg.Firebase.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(cfg.Firestore.ProjectID)
	}
	httpLogger := c.logger.Named("http")

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.Trace(projectID),
			observability.AccessLog(httpLogger),
			observability.Recover(httpLogger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(build),
			handlers.WithHealthSystemService(c.Services.System),
		)),
		handlers.WithMeRoutes(documentHandlers.Routes),
	}

	jobRoutes := handlers.NewDocumentJobHandlers(c.Services.Documents).Routes
	pushVerifier, err := auth.NewPushVerifier(cfg.Security.OIDC,
		auth.WithPushLogger(observability.NewPrintfAdapter(c.logger.Named("auth"))),
	)
	switch {
	case err == nil:
		opts = append(opts,
			handlers.WithInternalMiddlewares(pushVerifier.Middleware),
			handlers.WithInternalRoutes(jobRoutes),
		)
	case strings.EqualFold(cfg.Security.Environment, "local"):
		c.logger.Warn("internal routes exposed without push verification in local environment")
		opts = append(opts, handlers.WithInternalRoutes(jobRoutes))
	default:
		c.logger.Warn("internal job routes disabled", zap.Error(err))
	}

	return handlers.NewRouter(opts...), nil
}
