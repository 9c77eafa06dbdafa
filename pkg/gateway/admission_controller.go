/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gateway

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/tokengate/pkg/apiresponses"
	"github.com/telekom/tokengate/pkg/system"
)

type VerificationCodeRequest struct {
	// Target is the phone number or e-mail address the code is sent to.
	Target  string `json:"target" form:"target" binding:"required"`
	Channel string `json:"channel" form:"channel" binding:"omitempty,oneof=sms email"`
}

// VerificationCodeController rate limits code requests per target address, so
// rotating client IPs or accounts does not help flooding one recipient.
type VerificationCodeController struct {
	admission  *admission
	log        *zap.SugaredLogger
	middleware []gin.HandlerFunc
}

func NewVerificationCodeController(log *zap.SugaredLogger, adm *admission, middleware ...gin.HandlerFunc) *VerificationCodeController {
	return &VerificationCodeController{admission: adm, log: log, middleware: middleware}
}

func (VerificationCodeController) BasePath() string {
	return "verification-codes"
}

func (vc *VerificationCodeController) Handlers() []gin.HandlerFunc {
	return vc.middleware
}

func (vc *VerificationCodeController) Register(rg *gin.RouterGroup) error {
	rg.POST("", vc.handleRequestCode)
	return nil
}

// NormalizeTarget folds a recipient address into its bucket key.
func NormalizeTarget(target string) string {
	return strings.ToLower(strings.TrimSpace(target))
}

func (vc *VerificationCodeController) handleRequestCode(c *gin.Context) {
	var req VerificationCodeRequest
	if err := c.ShouldBind(&req); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "target is required", err.Error())
		return
	}
	key := NormalizeTarget(req.Target)
	if key == "" {
		apiresponses.RespondBadRequest(c, "target is required")
		return
	}

	authenticated := c.GetString(system.SubjectKey) != ""
	if !vc.admission.check(c, key, authenticated) {
		return
	}

	system.GetReqLogger(c, vc.log).Debugw("Verification code request admitted", "channel", req.Channel)
	apiresponses.RespondAccepted(c, gin.H{"status": "accepted", "target": key})
}

// OrderController admits order submissions; the order itself is handled downstream.
type OrderController struct {
	log        *zap.SugaredLogger
	middleware []gin.HandlerFunc
}

func NewOrderController(log *zap.SugaredLogger, middleware ...gin.HandlerFunc) *OrderController {
	return &OrderController{log: log, middleware: middleware}
}

func (OrderController) BasePath() string {
	return "orders"
}

func (oc *OrderController) Handlers() []gin.HandlerFunc {
	return oc.middleware
}

func (oc *OrderController) Register(rg *gin.RouterGroup) error {
	rg.POST("", oc.handleCreateOrder)
	return nil
}

func (oc *OrderController) handleCreateOrder(c *gin.Context) {
	subject := c.GetString(system.SubjectKey)
	system.GetReqLogger(c, oc.log).Debugw("Order admitted")
	apiresponses.RespondAccepted(c, gin.H{"status": "accepted", "subject": subject})
}
