package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/alem-hub/achievement-engine/internal/application/command"
	"github.com/alem-hub/achievement-engine/internal/application/query"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST PARAMETERS
// ══════════════════════════════════════════════════════════════════════════════

type userParams struct {
	UserID string `validate:"required,max=128"`
}

type evaluateParams struct {
	UserID       string `validate:"required,max=128"`
	CourseID     string `query:"course_id" validate:"max=128"`
	EnrollmentID string `query:"enrollment_id" validate:"excluded_without=CourseID,max=128"`
}

type leaderboardParams struct {
	Period string `validate:"required,oneof=daily weekly monthly all_time"`
	Limit  int    `query:"limit" validate:"gte=0"`
}

// evaluateResponse adds the per-achievement write failures that
// EvaluateResult keeps out of its JSON form.
type evaluateResponse struct {
	*command.EvaluateResult
	Failed []failedGrant `json:"failed"`
}

type failedGrant struct {
	AchievementID string `json:"achievement_id"`
	Title         string `json:"title"`
}

type courseProgressResponse struct {
	UserID  string                     `json:"user_id"`
	Courses []query.CourseProgressView `json:"courses"`
}

func (s *Server) userID(c *fiber.Ctx) (string, error) {
	p := userParams{UserID: c.Params("userID")}
	if err := s.validate.Struct(p); err != nil {
		return "", err
	}
	return p.UserID, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleEvaluate runs EvaluateAndGrant. Partial grant failures still answer
// 200 and are listed under "failed".
func (s *Server) handleEvaluate(c *fiber.Ctx) error {
	var p evaluateParams
	if err := c.QueryParser(&p); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed query string")
	}
	p.UserID = c.Params("userID")
	if err := s.validate.Struct(p); err != nil {
		return err
	}

	res, err := s.deps.Evaluate.Handle(c.UserContext(), command.EvaluateAndGrantCommand{
		UserID:       p.UserID,
		CourseID:     p.CourseID,
		EnrollmentID: p.EnrollmentID,
	})
	if err != nil {
		return err
	}

	out := evaluateResponse{EvaluateResult: res, Failed: make([]failedGrant, 0, len(res.Failures))}
	for _, f := range res.Failures {
		out.Failed = append(out.Failed, failedGrant{AchievementID: f.Achievement.ID, Title: f.Achievement.Title})
	}
	return c.JSON(out)
}

func (s *Server) handleUserAchievements(c *fiber.Ctx) error {
	userID, err := s.userID(c)
	if err != nil {
		return err
	}
	res, err := s.deps.Achievements.Handle(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) handleCourseProgress(c *fiber.Ctx) error {
	userID, err := s.userID(c)
	if err != nil {
		return err
	}
	views, err := s.deps.CourseProgress.Handle(c.UserContext(), userID)
	if err != nil {
		return err
	}
	if views == nil {
		views = []query.CourseProgressView{}
	}
	return c.JSON(courseProgressResponse{UserID: userID, Courses: views})
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD & HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleLeaderboard(c *fiber.Ctx) error {
	var p leaderboardParams
	if err := c.QueryParser(&p); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "limit must be an integer")
	}
	p.Period = c.Params("period")
	if err := s.validate.Struct(p); err != nil {
		return err
	}

	res, err := s.deps.Leaderboard.Handle(c.UserContext(), query.GetLeaderboardQuery{
		Period: p.Period,
		Limit:  p.Limit,
	})
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	status := s.deps.Health.Check(c.UserContext())
	if !status.Healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(status)
	}
	return c.JSON(status)
}
