package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rodrigodh/robosats/api"
	"github.com/rodrigodh/robosats/config"
	"github.com/rodrigodh/robosats/constants"
	"github.com/rodrigodh/robosats/lnclient"
	"github.com/rodrigodh/robosats/logger"
	"github.com/rodrigodh/robosats/orders"
	"github.com/rodrigodh/robosats/prices"
)

type authTokenResponse struct {
	RobotID string `json:"robot_id"`
	Token   string `json:"token"`
}

type jwtCustomClaims struct {
	RobotID string `json:"robot_id"`
	Admin   bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

type HttpService struct {
	api api.API
	cfg config.Config
}

func NewHttpService(api api.API, cfg config.Config) *HttpService {
	return &HttpService{
		api: api,
		cfg: cfg,
	}
}

func (httpSvc *HttpService) RegisterSharedRoutes(e *echo.Echo) {
	e.HideBanner = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		LogHost:      true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, values middleware.RequestLoggerValues) error {
			logger.HttpLogger.Info().
				Str("uri", values.URI).
				Int("status", values.Status).
				Str("remote_ip", values.RemoteIP).
				Str("user_agent", values.UserAgent).
				Str("host", values.Host).
				Str("request_id", values.RequestID).
				Msg("handled API request")
			return nil
		},
	}))

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.GET("/api/info", httpSvc.infoHandler)
	e.GET("/api/limits", httpSvc.limitsHandler)
	e.GET("/api/book", httpSvc.bookHandler)

	// allow one robot token request per second
	tokenRateLimiter := middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(1))
	e.POST("/api/robot", httpSvc.createRobotHandler, tokenRateLimiter)

	// restricted routes
	jwtConfig := echojwt.Config{
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(jwtCustomClaims)
		},
		KeyFunc: func(token *jwt.Token) (interface{}, error) {
			return []byte(httpSvc.cfg.GetJWTSecret()), nil
		},
		TokenLookup: "header:Authorization:Bearer ,query:token",
	}

	robotApiGroup := e.Group("/api")
	robotApiGroup.Use(echojwt.WithConfig(jwtConfig))

	robotApiGroup.POST("/make", httpSvc.makeOrderHandler)
	robotApiGroup.GET("/order", httpSvc.getOrderHandler)
	robotApiGroup.POST("/order/take", httpSvc.takeOrderHandler)
	robotApiGroup.POST("/order/cancel", httpSvc.cancelOrderHandler)
	robotApiGroup.POST("/order/fiat-sent", httpSvc.fiatSentHandler)
	robotApiGroup.POST("/order/fiat-received", httpSvc.fiatReceivedHandler)
	robotApiGroup.POST("/order/dispute", httpSvc.openDisputeHandler)

	adminApiGroup := e.Group("/api/admin")
	adminApiGroup.Use(echojwt.WithConfig(jwtConfig))
	adminApiGroup.Use(httpSvc.requireAdmin)

	adminApiGroup.POST("/follow-invoices", httpSvc.followInvoicesHandler)
	adminApiGroup.POST("/order/resolve-dispute", httpSvc.resolveDisputeHandler)
}

func (httpSvc *HttpService) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.Get("user").(*jwt.Token)
		claims := token.Claims.(*jwtCustomClaims)
		if !claims.Admin {
			return c.JSON(http.StatusForbidden, api.ErrorResponse{
				Code:    constants.ERROR_UNAUTHORIZED,
				Message: "This operation requires coordinator permissions",
			})
		}
		return next(c)
	}
}

func (httpSvc *HttpService) robotID(c echo.Context) string {
	token := c.Get("user").(*jwt.Token)
	claims := token.Claims.(*jwtCustomClaims)
	return claims.RobotID
}

func (httpSvc *HttpService) orderID(c echo.Context) (uint, error) {
	raw := c.QueryParam("order_id")
	if raw == "" {
		raw = c.FormValue("order_id")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid order_id: %q", raw)
	}
	return uint(id), nil
}

// createRobotHandler mints the bearer token a trading identity uses for the
// rest of its session. Identities are ephemeral, one per trade by convention.
func (httpSvc *HttpService) createRobotHandler(c echo.Context) error {
	robotID := uuid.NewString()

	claims := &jwtCustomClaims{
		RobotID: robotID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour * 24 * 30)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(httpSvc.cfg.GetJWTSecret()))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Code:    constants.ERROR_INTERNAL,
			Message: fmt.Sprintf("Failed to sign token: %s", err.Error()),
		})
	}

	return c.JSON(http.StatusOK, &authTokenResponse{
		RobotID: robotID,
		Token:   signed,
	})
}

func (httpSvc *HttpService) infoHandler(c echo.Context) error {
	ctx := c.Request().Context()

	info, err := httpSvc.api.GetInfo(ctx)
	if err != nil {
		return httpSvc.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

func (httpSvc *HttpService) limitsHandler(c echo.Context) error {
	ctx := c.Request().Context()

	limits, err := httpSvc.api.GetLimits(ctx)
	if err != nil {
		return httpSvc.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, limits)
}

func (httpSvc *HttpService) bookHandler(c echo.Context) error {
	ctx := c.Request().Context()

	book, err := httpSvc.api.ListPublicOrders(ctx, c.QueryParam("currency"))
	if err != nil {
		return httpSvc.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, book)
}

func (httpSvc *HttpService) makeOrderHandler(c echo.Context) error {
	ctx := c.Request().Context()

	var createOrderRequest orders.CreateOrderRequest
	if err := c.Bind(&createOrderRequest); err != nil {
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Code:    constants.ERROR_BAD_REQUEST,
			Message: fmt.Sprintf("Bad request: %s", err.Error()),
		})
	}

	details, err := httpSvc.api.CreateOrder(ctx, httpSvc.robotID(c), &createOrderRequest)
	if err != nil {
		return httpSvc.errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, details)
}

func (httpSvc *HttpService) getOrderHandler(c echo.Context) error {
	ctx := c.Request().Context()

	orderID, err := httpSvc.orderID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Code:    constants.ERROR_BAD_REQUEST,
			Message: err.Error(),
		})
	}

	details, err := httpSvc.api.GetOrder(ctx, orderID, httpSvc.robotID(c))
	if err != nil {
		return httpSvc.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, details)
}

func (httpSvc *HttpService) takeOrderHandler(c echo.Context) error {
	ctx := c.Request().Context()

	orderID, err := httpSvc.orderID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Code:    constants.ERROR_BAD_REQUEST,
			Message: err.Error(),
		})
	}

	var takeOrderRequest api.TakeOrderRequest
	if err := c.Bind(&takeOrderRequest); err != nil {
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Code:    constants.ERROR_BAD_REQUEST,
			Message: fmt.Sprintf("Bad request: %s", err.Error()),
		})
	}

	details, err := httpSvc.api.TakeOrder(ctx, orderID, httpSvc.robotID(c), takeOrderRequest.Amount)
	if err != nil {
		return httpSvc.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, details)
}

func (httpSvc *HttpService) cancelOrderHandler(c echo.Context) error {
	ctx := c.Request().Context()

	orderID, err := httpSvc.orderID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Code:    constants.ERROR_BAD_REQUEST,
			Message: err.Error(),
		})
	}

	err = httpSvc.api.CancelOrder(ctx, orderID, httpSvc.robotID(c))
	if err != nil {
		return httpSvc.errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (httpSvc *HttpService) fiatSentHandler(c echo.Context) error {
	ctx := c.Request().Context()

	orderID, err := httpSvc.orderID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Code:    constants.ERROR_BAD_REQUEST,
			Message: err.Error(),
		})
	}

	details, err := httpSvc.api.ConfirmFiatSent(ctx, orderID, httpSvc.robotID(c))
	if err != nil {
		return httpSvc.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, details)
}

func (httpSvc *HttpService) fiatReceivedHandler(c echo.Context) error {
	ctx := c.Request().Context()

	orderID, err := httpSvc.orderID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Code:    constants.ERROR_BAD_REQUEST,
			Message: err.Error(),
		})
	}

	details, err := httpSvc.api.ConfirmFiatReceived(ctx, orderID, httpSvc.robotID(c))
	if err != nil {
		return httpSvc.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, details)
}

func (httpSvc *HttpService) openDisputeHandler(c echo.Context) error {
	ctx := c.Request().Context()

	orderID, err := httpSvc.orderID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Code:    constants.ERROR_BAD_REQUEST,
			Message: err.Error(),
		})
	}

	details, err := httpSvc.api.OpenDispute(ctx, orderID, httpSvc.robotID(c))
	if err != nil {
		return httpSvc.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, details)
}

func (httpSvc *HttpService) resolveDisputeHandler(c echo.Context) error {
	ctx := c.Request().Context()

	orderID, err := httpSvc.orderID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Code:    constants.ERROR_BAD_REQUEST,
			Message: err.Error(),
		})
	}

	var resolveDisputeRequest api.ResolveDisputeRequest
	if err := c.Bind(&resolveDisputeRequest); err != nil {
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Code:    constants.ERROR_BAD_REQUEST,
			Message: fmt.Sprintf("Bad request: %s", err.Error()),
		})
	}

	err = httpSvc.api.ResolveDispute(ctx, orderID, resolveDisputeRequest.Winner)
	if err != nil {
		return httpSvc.errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (httpSvc *HttpService) followInvoicesHandler(c echo.Context) error {
	httpSvc.api.FollowInvoices(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

// errorResponse maps domain error types onto HTTP statuses. Unknown errors
// stay opaque 500s so internals never leak to clients.
func (httpSvc *HttpService) errorResponse(c echo.Context, err error) error {
	switch {
	case orders.IsValidationError(err), orders.IsInvalidRangeError(err):
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Code:    constants.ERROR_BAD_REQUEST,
			Message: err.Error(),
		})
	case orders.IsNotFoundError(err):
		return c.JSON(http.StatusNotFound, api.ErrorResponse{
			Code:    constants.ERROR_NOT_FOUND,
			Message: err.Error(),
		})
	case orders.IsConflictError(err):
		return c.JSON(http.StatusConflict, api.ErrorResponse{
			Code:    constants.ERROR_CONFLICT,
			Message: err.Error(),
		})
	case orders.IsUnauthorizedError(err):
		return c.JSON(http.StatusForbidden, api.ErrorResponse{
			Code:    constants.ERROR_UNAUTHORIZED,
			Message: err.Error(),
		})
	case orders.IsStaleRateError(err), prices.IsRateNotCachedError(err):
		return c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{
			Code:    constants.ERROR_STALE_RATE,
			Message: err.Error(),
		})
	case lnclient.IsBackendUnavailableError(err):
		return c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{
			Code:    constants.ERROR_UNAVAILABLE,
			Message: "The payment backend is temporarily unavailable",
		})
	default:
		logger.Logger.Error().Err(err).Msg("Unhandled API error")
		return c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Code:    constants.ERROR_INTERNAL,
			Message: "Something went wrong while processing the request",
		})
	}
}
