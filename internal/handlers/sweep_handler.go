package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ledgercore/internal/dates"
	"ledgercore/internal/services"
)

// SweepHandler exposes the maintenance sweep to schedulers.
type SweepHandler struct {
	sweepService services.SweepServicer
	now          func() time.Time
}

// NewSweepHandler creates a new SweepHandler.
func NewSweepHandler(sweepService services.SweepServicer) *SweepHandler {
	return &SweepHandler{sweepService: sweepService, now: time.Now}
}

// RunSweep triggers recurring generation and alert evaluation for all users
// @Summary     Run the maintenance sweep
// @Description Generate due recurring transactions and evaluate budget alerts for every active user. Requires the X-API-Key header.
// @Tags        internal
// @Produce     json
// @Param       X-API-Key header string true  "Sweep API key"
// @Param       date      query  string false "Run as of this date (YYYY-MM-DD), default today"
// @Success     200 {object} services.SweepReport "Sweep summary"
// @Failure     400 {object} ErrorResponse "Invalid date"
// @Failure     401 {object} ErrorResponse "Invalid API key"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /internal/sweep [post]
func (h *SweepHandler) RunSweep(c *gin.Context) {
	today := dates.DateOf(h.now())
	if v := c.Query("date"); v != "" {
		parsed, err := parseDateField(v, "date")
		if err != nil {
			respondWithError(c, err)
			return
		}
		today = parsed
	}

	report, err := h.sweepService.Run(c.Request.Context(), today)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report, "date": today.Format(time.DateOnly)})
}
