// Package strategy plans campaign strategies and replaces the tail of a
// running strategy from a given phase onward.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeeSinLiang/Janus-sub000/internal/llm"
	"github.com/LeeSinLiang/Janus-sub000/internal/metrics"
	"github.com/LeeSinLiang/Janus-sub000/internal/models"
	"github.com/LeeSinLiang/Janus-sub000/internal/notify"
	"github.com/LeeSinLiang/Janus-sub000/internal/repository"
	"github.com/LeeSinLiang/Janus-sub000/internal/retry"
	"github.com/LeeSinLiang/Janus-sub000/internal/tasks"
)

var (
	ErrInvalidPhase     = errors.New("phase must be greater than 1")
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrNoPriorPosts     = errors.New("no active posts before the requested phase")
	ErrInvalidGraph     = errors.New("invalid strategy graph")
	ErrInvalidRequest   = errors.New("invalid request")
	// ErrStaleContext is returned when a preserved post changed between
	// planning and commit
	ErrStaleContext = errors.New("strategy changed during planning")
	// ErrGenerationFailed wraps errors from the strategy generator
	ErrGenerationFailed = errors.New("strategy generation failed")
)

// RegenerateRequest asks for a new strategy from FromPhase onward
type RegenerateRequest struct {
	CampaignID string `json:"campaign_id"`
	FromPhase  int    `json:"phase"`
	Direction  string `json:"direction"`
}

// CreateRequest asks for a new campaign with a full strategy
type CreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Goals       string `json:"goals"`
	Direction   string `json:"direction"`
}

// Result describes a committed strategy change
type Result struct {
	CampaignID    string        `json:"campaign_id"`
	ArchivedCount int           `json:"archived_count"`
	CreatedCount  int           `json:"created_count"`
	NewVersion    int           `json:"new_version"`
	Diagram       string        `json:"diagram"`
	Posts         []models.Post `json:"posts"`
	// Queued is the number of content generation tasks accepted
	Queued int `json:"queued"`
}

// Coordinator runs strategy planning against the store
type Coordinator struct {
	store     *repository.Store
	retry     *retry.Executor
	generator llm.StrategyGenerator
	enqueuer  tasks.Enqueuer
	notifier  notify.Notifier
	timeout   time.Duration
	logger    *slog.Logger
}

// Config contains coordinator settings
type Config struct {
	GenerationTimeout time.Duration
}

// NewCoordinator creates a coordinator. notifier may be nil.
func NewCoordinator(store *repository.Store, exec *retry.Executor, gen llm.StrategyGenerator, enq tasks.Enqueuer,
	notifier notify.Notifier, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 2 * time.Minute
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Coordinator{
		store:     store,
		retry:     exec,
		generator: gen,
		enqueuer:  enq,
		notifier:  notifier,
		timeout:   cfg.GenerationTimeout,
		logger:    logger.With("component", "strategy"),
	}
}

// Regenerate replaces every active post from req.FromPhase onward with a
// freshly planned set. Posts in earlier phases are kept and passed to the
// generator as context. Nothing is written unless the plan validates; the
// archive, version bump, new posts and links then commit together.
func (c *Coordinator) Regenerate(ctx context.Context, req RegenerateRequest) (*Result, error) {
	res, err := c.regenerate(ctx, req)
	if err != nil {
		metrics.IncStrategyRegens(metrics.ResultFailure)
		return nil, err
	}
	metrics.IncStrategyRegens(metrics.ResultSuccess)
	return res, nil
}

func (c *Coordinator) regenerate(ctx context.Context, req RegenerateRequest) (*Result, error) {
	if req.FromPhase <= 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPhase, req.FromPhase)
	}
	logger := c.logger.With("campaign_id", req.CampaignID, "from_phase", req.FromPhase)

	campaign, err := c.getCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}

	prior, err := c.store.Posts.ListActiveBeforePhase(ctx, campaign.ID, req.FromPhase)
	if err != nil {
		return nil, err
	}
	if len(prior) == 0 {
		return nil, fmt.Errorf("%w: phase %d", ErrNoPriorPosts, req.FromPhase)
	}

	existing := make(map[string]models.Post, len(prior))
	kept := make([]llm.ContextPost, 0, len(prior))
	for _, p := range prior {
		if _, dup := existing[p.NodeID]; dup {
			continue
		}
		existing[p.NodeID] = p
		kept = append(kept, llm.ContextPost{
			NodeID:      p.NodeID,
			Title:       p.Title,
			Description: p.Description,
			Phase:       p.PhaseNumber(),
		})
	}

	graph, err := c.plan(ctx, llm.PlanRequest{
		CampaignName:       campaign.Name,
		ProductDescription: campaign.Description,
		Goals:              campaign.Metadata.Goals,
		Direction:          req.Direction,
		StartPhase:         req.FromPhase,
		Existing:           kept,
	})
	if err != nil {
		return nil, err
	}

	p, err := validate(graph, req.FromPhase, existing)
	if err != nil {
		logger.Warn("rejected planned strategy", "error", err)
		return nil, err
	}

	res := &Result{CampaignID: campaign.ID}
	err = c.retry.Do(ctx, func() error {
		*res = Result{CampaignID: campaign.ID}
		return c.store.InTx(ctx, func(tx *repository.Store) error {
			// Preserved posts may have been archived since planning
			current, err := tx.Posts.ListActiveBeforePhase(ctx, campaign.ID, req.FromPhase)
			if err != nil {
				return err
			}
			ids := make(map[string]string, len(current))
			for _, post := range current {
				if _, dup := ids[post.NodeID]; !dup {
					ids[post.NodeID] = post.ID
				}
			}
			for _, e := range p.edges {
				for _, id := range []string{e.From, e.To} {
					if _, kept := existing[id]; kept && ids[id] == "" {
						return fmt.Errorf("%w: post %s is no longer active", ErrStaleContext, id)
					}
				}
			}

			res.ArchivedCount, err = tx.Posts.ArchiveFromPhase(ctx, campaign.ID, req.FromPhase)
			if err != nil {
				return err
			}
			res.NewVersion, err = tx.Campaigns.BumpVersion(ctx, campaign.ID)
			if err != nil {
				return err
			}

			if err := c.insertPlan(ctx, tx, campaign.ID, res, p, ids); err != nil {
				return err
			}

			diagram, meta, err := snapshot(ctx, tx, campaign)
			if err != nil {
				return err
			}
			res.Diagram = diagram
			if err := tx.Campaigns.UpdateStrategy(ctx, campaign.ID, diagram, meta); err != nil {
				return err
			}

			if _, err := tx.Campaigns.AdvancePhase(ctx, campaign.ID, models.PhaseContentCreation,
				models.PhasePlanning, models.PhaseScheduled, models.PhaseActive); err != nil {
				return err
			}

			msg := fmt.Sprintf("Strategy v%d replaces phase %d onward: %d posts archived, %d planned",
				res.NewVersion, req.FromPhase, res.ArchivedCount, res.CreatedCount)
			if req.Direction != "" {
				msg += fmt.Sprintf(" (direction: %s)", req.Direction)
			}
			return tx.Campaigns.AppendInsight(ctx, campaign.ID, models.Insight{Kind: models.InsightStrategy, Message: msg})
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info("strategy regenerated",
		"version", res.NewVersion,
		"archived", res.ArchivedCount,
		"created", res.CreatedCount,
	)

	res.Queued = c.enqueueContent(ctx, res.Posts)
	c.notify(ctx, campaign.Name, res)
	return res, nil
}

// Create plans a full strategy for a new campaign and stores the campaign,
// its posts and their links together
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*Result, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}

	graph, err := c.plan(ctx, llm.PlanRequest{
		CampaignName:       req.Name,
		ProductDescription: req.Description,
		Goals:              req.Goals,
		Direction:          req.Direction,
		StartPhase:         1,
	})
	if err != nil {
		return nil, err
	}

	p, err := validate(graph, 1, nil)
	if err != nil {
		c.logger.Warn("rejected planned strategy", "campaign", req.Name, "error", err)
		return nil, err
	}

	campaign := &models.Campaign{
		Name:        req.Name,
		Description: req.Description,
		Metadata:    models.CampaignMeta{Goals: req.Goals},
	}

	res := &Result{}
	err = c.retry.Do(ctx, func() error {
		*res = Result{}
		campaign.ID = ""
		return c.store.InTx(ctx, func(tx *repository.Store) error {
			if err := tx.Campaigns.Create(ctx, campaign); err != nil {
				return err
			}
			res.CampaignID = campaign.ID
			res.NewVersion = campaign.CurrentVersion

			if err := c.insertPlan(ctx, tx, campaign.ID, res, p, nil); err != nil {
				return err
			}

			diagram, meta, err := snapshot(ctx, tx, campaign)
			if err != nil {
				return err
			}
			res.Diagram = diagram
			if err := tx.Campaigns.UpdateStrategy(ctx, campaign.ID, diagram, meta); err != nil {
				return err
			}

			_, err = tx.Campaigns.AdvancePhase(ctx, campaign.ID, models.PhaseContentCreation, models.PhasePlanning)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("campaign created", "campaign_id", campaign.ID, "posts", res.CreatedCount)

	res.Queued = c.enqueueContent(ctx, res.Posts)
	return res, nil
}

func (c *Coordinator) getCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	campaign, err := c.store.Campaigns.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, id)
	}
	return campaign, err
}

func (c *Coordinator) plan(ctx context.Context, req llm.PlanRequest) (*Graph, error) {
	genCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.generator.Plan(genCtx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return ParseDiagram(out.Diagram), nil
}

// insertPlan stores the new posts of p at res.NewVersion and links them.
// ids maps preserved node ids to post ids.
func (c *Coordinator) insertPlan(ctx context.Context, tx *repository.Store, campaignID string, res *Result, p *plan, ids map[string]string) error {
	postIDs := make(map[string]string, len(ids)+len(p.nodes))
	for node, id := range ids {
		postIDs[node] = id
	}

	for _, n := range p.nodes {
		label := n.PhaseLabel
		if models.PhaseNumber(label) != n.Phase {
			label = models.PhaseLabel(n.Phase)
		}
		post := &models.Post{
			CampaignID:  campaignID,
			NodeID:      n.ID,
			Title:       n.Title,
			Description: n.Description,
			Phase:       label,
			Version:     res.NewVersion,
			IsActive:    true,
			Status:      models.StatusDraft,
		}
		if err := tx.Posts.Create(ctx, post); err != nil {
			return err
		}
		postIDs[n.ID] = post.ID
		res.Posts = append(res.Posts, *post)
	}
	res.CreatedCount = len(res.Posts)

	for _, e := range p.edges {
		if err := tx.Posts.AddLink(ctx, postIDs[e.From], postIDs[e.To]); err != nil {
			return err
		}
	}

	for i := range res.Posts {
		for _, e := range p.edges {
			if e.From == res.Posts[i].NodeID {
				res.Posts[i].NextPosts = append(res.Posts[i].NextPosts, postIDs[e.To])
			}
		}
	}
	return nil
}

// snapshot renders the campaign's active graph and the metadata describing it
func snapshot(ctx context.Context, tx *repository.Store, campaign *models.Campaign) (string, models.CampaignMeta, error) {
	posts, err := tx.Posts.ListByCampaign(ctx, campaign.ID, false)
	if err != nil {
		return "", models.CampaignMeta{}, err
	}
	links, err := tx.Posts.ListLinks(ctx, campaign.ID)
	if err != nil {
		return "", models.CampaignMeta{}, err
	}

	g := &Graph{}
	nodeOf := make(map[string]string, len(posts))
	for _, p := range posts {
		nodeOf[p.ID] = p.NodeID
		g.Nodes = append(g.Nodes, Node{
			ID:          p.NodeID,
			Title:       p.Title,
			Description: p.Description,
			Phase:       p.PhaseNumber(),
			PhaseLabel:  p.Phase,
		})
	}
	for _, l := range links {
		g.Edges = append(g.Edges, Edge{From: nodeOf[l.FromPostID], To: nodeOf[l.ToPostID]})
	}

	meta := campaign.Metadata
	meta.TotalNodes = len(g.Nodes)
	meta.TotalConnections = len(g.Edges)
	return RenderDiagram(g), meta, nil
}

// enqueueContent asks for the first A/B pair of each new post and returns
// the number of tasks accepted. Refused tasks leave the post without content
// until generation is requested again.
func (c *Coordinator) enqueueContent(ctx context.Context, posts []models.Post) int {
	queued := 0
	for _, p := range posts {
		err := c.enqueuer.Enqueue(ctx, &tasks.Task{Kind: tasks.KindGenerateContent, PostID: p.ID})
		if err != nil {
			c.logger.Warn("failed to enqueue content generation", "post_id", p.ID, "error", err)
			continue
		}
		queued++
	}
	return queued
}

func (c *Coordinator) notify(ctx context.Context, campaign string, res *Result) {
	subject := fmt.Sprintf("%s: strategy v%d", campaign, res.NewVersion)
	body := fmt.Sprintf("Campaign %q moved to strategy version %d.\n%d posts archived, %d posts planned.\n\n%s",
		campaign, res.NewVersion, res.ArchivedCount, res.CreatedCount, res.Diagram)
	if err := c.notifier.Notify(ctx, subject, body); err != nil {
		c.logger.Warn("failed to send notification", "error", err)
	}
}
