package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	orgdomain "github.com/smallbiznis/agentmarket/internal/organization/domain"
)

type updateMemberRoleRequest struct {
	Role string `json:"role"`
}

type createInviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (s *Server) GetOrganization(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	org, err := s.organizationSvc.Get(c.Request.Context(), principal.OrgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"organization": org,
		"role":         principal.Role,
	})
}

func (s *Server) UpdateOrganization(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req orgdomain.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrgID = principal.OrgID
	req.ActorRole = principal.Role

	org, err := s.organizationSvc.UpdateProfile(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, org)
}

func (s *Server) ListMembers(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	members, err := s.organizationSvc.ListMembers(c.Request.Context(), principal.OrgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": members})
}

func (s *Server) UpdateMemberRole(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req updateMemberRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.organizationSvc.UpdateMemberRole(c.Request.Context(), orgdomain.UpdateMemberRoleRequest{
		OrgID:       principal.OrgID,
		ActorUserID: principal.UserID,
		ActorRole:   principal.Role,
		MemberID:    strings.TrimSpace(c.Param("id")),
		Role:        req.Role,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) RemoveMember(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	err := s.organizationSvc.RemoveMember(c.Request.Context(), orgdomain.RemoveMemberRequest{
		OrgID:       principal.OrgID,
		ActorUserID: principal.UserID,
		ActorRole:   principal.Role,
		MemberID:    strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) CreateInvite(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	invite, err := s.organizationSvc.CreateInvite(c.Request.Context(), orgdomain.CreateInviteRequest{
		OrgID:       principal.OrgID,
		ActorUserID: principal.UserID,
		ActorRole:   principal.Role,
		Email:       req.Email,
		Role:        req.Role,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, invite)
}

// AcceptInvite joins the caller to the inviting organization. The caller's
// key stays bound to its own organization.
func (s *Server) AcceptInvite(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	membership, err := s.organizationSvc.AcceptInvite(c.Request.Context(), orgdomain.AcceptInviteRequest{
		Token:  strings.TrimSpace(c.Param("token")),
		UserID: principal.UserID,
		Email:  principal.Email,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, membership)
}
