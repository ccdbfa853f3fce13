package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/pvmonitor/pvdash/internal/filterchain"
	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/models"
	"github.com/pvmonitor/pvdash/internal/services"
)

// SessionResponse is the state of a filter session.
type SessionResponse struct {
	models.Status
	filterchain.State
	Idle bool `json:"idle"`
}

// FilterResponse is one filter of a session.
type FilterResponse struct {
	models.Status
	Filter filterchain.Filter `json:"filter"`
}

func errSessionNotFound(id string) error {
	return services.NewServiceErrorWithDetails(services.CodeNotFound, "Filter session not found",
		map[string]interface{}{"session_id": id})
}

func (h *Handler) session(c *fiber.Ctx) (*filterchain.Chain, error) {
	id := c.Params("id")
	chain, ok := h.sessions.Get(id)
	if !ok {
		return nil, errSessionNotFound(id)
	}
	return chain, nil
}

func sessionResponse(chain *filterchain.Chain) SessionResponse {
	return SessionResponse{Status: models.OK(""), State: chain.Snapshot(), Idle: chain.Idle()}
}

func (h *Handler) filterReply(c *fiber.Ctx, f filterchain.Filter, err error) error {
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(FilterResponse{Status: models.OK(""), Filter: f})
}

// CreateSession handles POST /api/filters/sessions
func (h *Handler) CreateSession(c *fiber.Ctx) error {
	var req models.CreateSessionRequest
	if len(c.Body()) > 0 {
		if err := h.parseBody(c, &req); err != nil {
			return h.fail(c, err)
		}
	}
	chain := h.sessions.Create(req.Bucket)
	h.logger.Info("Filter session created", "session_id", chain.ID(), "bucket", req.Bucket)
	return c.Status(fiber.StatusCreated).JSON(sessionResponse(chain))
}

// GetSession handles GET /api/filters/sessions/:id
func (h *Handler) GetSession(c *fiber.Ctx) error {
	chain, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(sessionResponse(chain))
}

// DeleteSession handles DELETE /api/filters/sessions/:id
func (h *Handler) DeleteSession(c *fiber.Ctx) error {
	id := c.Params("id")
	if !h.sessions.Delete(id) {
		return h.fail(c, errSessionNotFound(id))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AddFilter handles POST /api/filters/sessions/:id/filters
func (h *Handler) AddFilter(c *fiber.Ctx) error {
	chain, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	f := chain.AddFilter()
	return c.Status(fiber.StatusCreated).JSON(FilterResponse{Status: models.OK(""), Filter: f})
}

// RemoveFilter handles DELETE /api/filters/sessions/:id/filters/:fid
func (h *Handler) RemoveFilter(c *fiber.Ctx) error {
	chain, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	if err := chain.RemoveFilter(c.Params("fid")); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(sessionResponse(chain))
}

// UpdateFilterKey handles PUT /api/filters/sessions/:id/filters/:fid/key
func (h *Handler) UpdateFilterKey(c *fiber.Ctx) error {
	chain, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req models.UpdateKeyRequest
	if err := h.parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	f, err := chain.UpdateKey(c.Params("fid"), req.Key)
	return h.filterReply(c, f, err)
}

// SetFilterValues handles PUT /api/filters/sessions/:id/filters/:fid/values
func (h *Handler) SetFilterValues(c *fiber.Ctx) error {
	chain, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req models.SetValuesRequest
	if err := h.parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	f, err := chain.SetSelectedValues(c.Params("fid"), req.Values)
	return h.filterReply(c, f, err)
}

// ToggleFilterValue handles POST /api/filters/sessions/:id/filters/:fid/toggle
func (h *Handler) ToggleFilterValue(c *fiber.Ctx) error {
	chain, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req models.ToggleValueRequest
	if err := h.parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	f, err := chain.ToggleValue(c.Params("fid"), req.Value, req.Included)
	return h.filterReply(c, f, err)
}

// SetFilterRange handles PUT /api/filters/sessions/:id/filters/:fid/range
// Value bounds apply to a _value filter, time bounds to a _time filter.
func (h *Handler) SetFilterRange(c *fiber.Ctx) error {
	chain, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req models.RangeRequest
	if err := h.parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}

	fid := c.Params("fid")
	current, err := chain.Filter(fid)
	if err != nil {
		return h.fail(c, err)
	}
	var f filterchain.Filter
	if current.Key == flux.KeyTime {
		f, err = chain.SetTimeRange(fid, req.TimeStart, req.TimeEnd)
	} else {
		f, err = chain.SetValueRange(fid, req.ValueMin, req.ValueMax)
	}
	return h.filterReply(c, f, err)
}

// SetSessionBucket handles PUT /api/filters/sessions/:id/bucket
func (h *Handler) SetSessionBucket(c *fiber.Ctx) error {
	chain, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req models.SetBucketRequest
	if err := h.parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	chain.SetBucket(req.Bucket)
	return c.JSON(sessionResponse(chain))
}

// RefreshSession handles POST /api/filters/sessions/:id/refresh
// It recomputes the candidate values of every filter, keeping the selections
// that remain valid.
func (h *Handler) RefreshSession(c *fiber.Ctx) error {
	chain, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	chain.Refresh()
	return c.Status(fiber.StatusAccepted).JSON(sessionResponse(chain))
}

// RefreshFilter handles POST /api/filters/sessions/:id/filters/:fid/refresh
func (h *Handler) RefreshFilter(c *fiber.Ctx) error {
	chain, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	fid := c.Params("fid")
	f, err := chain.Filter(fid)
	if err != nil {
		return h.fail(c, err)
	}
	chain.Refresh(fid)
	return c.Status(fiber.StatusAccepted).JSON(FilterResponse{Status: models.OK(""), Filter: f})
}

// SessionQuery handles GET /api/filters/sessions/:id/query
// It renders the query of the session's current selections.
func (h *Handler) SessionQuery(c *fiber.Ctx) error {
	chain, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req models.SessionQueryRequest
	if err := h.parseQuery(c, &req); err != nil {
		return h.fail(c, err)
	}

	fr := chain.Request(flux.TimeRange{Start: req.Start, Stop: req.Stop}, req.WindowPeriod, req.AggregateFunction)
	if err := fr.Validate(); err != nil && !errors.Is(err, flux.ErrNoBucket) {
		return h.fail(c, err)
	}
	q := flux.Build(fr)
	return c.JSON(BuildResponse{Status: models.OK(""), Query: q, Executable: !flux.IsPlaceholder(q)})
}

// FilterKeys handles GET /api/filters/sessions/:id/filters/:fid/keys
// It lists the catalogue keys no other filter of the session uses.
func (h *Handler) FilterKeys(c *fiber.Ctx) error {
	chain, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	fid := c.Params("fid")
	if _, err := chain.Filter(fid); err != nil {
		return h.fail(c, err)
	}

	cat, err := h.explorer.Catalogue(c.UserContext(), chain.Bucket())
	if err != nil {
		return h.reply(c, err, ValuesResponse{Status: status(models.SourceFallback, err), Values: []string{}})
	}
	keys := orEmpty(chain.AvailableKeys(fid, cat.Keys()))
	return c.JSON(ValuesResponse{Status: models.OK(cat.Source), Values: keys, TotalFound: len(keys)})
}
