// Package api exposes the provisioning engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/internal/engine"
	"github.com/yairfalse/stackforge/pkg/account"
)

// Engine is the part of the provisioning engine the API calls.
type Engine interface {
	Provision(ctx context.Context, req engine.Request) (*engine.Result, error)
	Recommend(useCase, stage, preference string) catalog.RecommendationSet
	Catalog() *catalog.Catalog
	Accounts(ctx context.Context) ([]*account.Account, error)
	Account(ctx context.Context, key account.Key) (*account.Account, error)
	ResetAccount(ctx context.Context, key account.Key) (*account.Account, error)
	Refresh(ctx context.Context, key account.Key) (*account.Account, error)
}

// Options configures the router.
type Options struct {
	Logger zerolog.Logger

	// Metrics is mounted at /metrics when set
	Metrics http.Handler

	// Health adds component details to /healthz
	Health func() interface{}
}

type server struct {
	engine Engine
	log    zerolog.Logger
	health func() interface{}
}

var registerTagNames sync.Once

// NewRouter builds the gin engine serving every route.
func NewRouter(e Engine, opts Options) *gin.Engine {
	registerTagNames.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(jsonName)
		}
	})

	s := &server{engine: e, log: opts.Logger.With().Str("component", "api").Logger(), health: opts.Health}

	r := gin.New()
	r.Use(RequestID(), Logger(s.log), Recovery(s.log))

	r.GET("/healthz", s.healthz)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	api := r.Group("/api")
	api.GET("/catalog", s.listCatalog)
	api.POST("/recommendations", s.recommend)
	api.POST("/provision", s.provision)
	api.GET("/accounts", s.listAccounts)
	api.GET("/accounts/:key", s.getAccount)
	api.POST("/accounts/:key/refresh", s.refreshAccount)
	api.POST("/accounts/:key/reset", s.resetAccount)

	return r
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

func describeBindError(err error) string {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return "malformed request body"
	}
	msgs := make([]string, 0, len(fields))
	for _, fe := range fields {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "email":
			msgs = append(msgs, fe.Field()+" must be a valid email address")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s check", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func (s *server) healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.health != nil {
		body["refresh"] = s.health()
	}
	c.JSON(http.StatusOK, body)
}
