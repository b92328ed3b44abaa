package api

import (
	"github.com/gin-gonic/gin"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/internal/engine"
	"github.com/yairfalse/stackforge/internal/filter"
	"github.com/yairfalse/stackforge/pkg/account"
)

type recommendationRequest struct {
	UseCase         string `json:"use_case" binding:"max=64"`
	CompanyStage    string `json:"company_stage" binding:"omitempty,oneof=idea startup growth enterprise"`
	CloudPreference string `json:"cloud_preference" binding:"omitempty,oneof=aws gcp any"`
	Description     string `json:"description" binding:"max=4000"`
}

type recommendationResponse struct {
	catalog.RecommendationSet
	Classified bool `json:"classified"`
}

type provisionRequest struct {
	StartupName     string   `json:"startup_name" binding:"required,max=100"`
	FounderEmail    string   `json:"founder_email" binding:"required,email"`
	FounderName     string   `json:"founder_name" binding:"required,max=100"`
	CloudPreference string   `json:"cloud_preference" binding:"omitempty,oneof=aws gcp any"`
	UseCase         string   `json:"use_case" binding:"max=64"`
	CompanyStage    string   `json:"company_stage" binding:"omitempty,oneof=idea startup growth enterprise"`
	Description     string   `json:"description" binding:"max=4000"`
	Services        []string `json:"services" binding:"omitempty,dive,required"`
}

type catalogResponse struct {
	Services   []catalog.ServiceDefinition `json:"services"`
	Categories []catalog.Category          `json:"categories"`
}

// useCase resolves the use case, classifying the description when no
// explicit use case was given.
func useCase(explicit, description string) (string, bool) {
	if explicit == "" && description != "" {
		return string(catalog.Classify(description)), true
	}
	return explicit, false
}

func (s *server) listCatalog(c *gin.Context) {
	cat := s.engine.Catalog()
	ok(c, catalogResponse{Services: cat.Services(), Categories: cat.Categories()})
}

func (s *server) recommend(c *gin.Context) {
	var req recommendationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	uc, classified := useCase(req.UseCase, req.Description)
	set := s.engine.Recommend(uc, req.CompanyStage, req.CloudPreference)
	ok(c, recommendationResponse{RecommendationSet: set, Classified: classified})
}

func (s *server) provision(c *gin.Context) {
	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	uc, _ := useCase(req.UseCase, req.Description)
	result, err := s.engine.Provision(c.Request.Context(), engine.Request{
		StartupName:     req.StartupName,
		FounderEmail:    req.FounderEmail,
		FounderName:     req.FounderName,
		CloudPreference: req.CloudPreference,
		UseCase:         uc,
		CompanyStage:    req.CompanyStage,
		Services:        req.Services,
	})
	if err != nil {
		if result != nil {
			writeErrorWith(c, err, result)
			return
		}
		writeError(c, err)
		return
	}
	ok(c, result)
}

func (s *server) listAccounts(c *gin.Context) {
	accounts, err := s.engine.Accounts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	accounts = filter.New(
		c.QueryArray("status"),
		c.QueryArray("provider"),
		c.QueryArray("service"),
		c.Query("creating") == "true",
	).Apply(accounts)
	if accounts == nil {
		accounts = []*account.Account{}
	}
	ok(c, accounts)
}

func (s *server) getAccount(c *gin.Context) {
	acc, err := s.engine.Account(c.Request.Context(), account.Key(c.Param("key")))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, acc)
}

func (s *server) refreshAccount(c *gin.Context) {
	acc, err := s.engine.Refresh(c.Request.Context(), account.Key(c.Param("key")))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, acc)
}

func (s *server) resetAccount(c *gin.Context) {
	acc, err := s.engine.ResetAccount(c.Request.Context(), account.Key(c.Param("key")))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, acc)
}
