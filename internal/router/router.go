package router

import (
	"net/http"
	"time"

	"proctor-go/internal/config"
	"proctor-go/internal/emitter"
	"proctor-go/internal/handlers"
	"proctor-go/internal/proctor"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/unrolled/secure"
	"go.uber.org/zap"
)

// maxFrameBytes bounds a frame upload; base64 JPEG frames are far smaller.
const maxFrameBytes = 8 << 20

func keyFunc(c *gin.Context) string {
	return c.ClientIP()
}

func errorHandler(c *gin.Context, info ratelimit.Info) {
	c.String(http.StatusTooManyRequests, "Too many requests. Try again in %s.", time.Until(info.ResetTime).Round(time.Second))
}

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Service  *proctor.Service
	Timeline handlers.Timeline    // nil without a database
	MQTT     *emitter.MQTTEmitter // nil when publishing is disabled
}

func Setup(log *zap.Logger, conf *config.Config, deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(log))
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFrameBytes)
		c.Next()
	})

	store := cookie.NewStore([]byte(conf.Server.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   false, // Set to true behind TLS
		SameSite: http.SameSiteLaxMode,
		MaxAge:   86400,
	})
	router.Use(sessions.Sessions("proctorsession", store))
	router.Use(ContentSecurityPolicy(log))

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
	})
	router.Use(func(c *gin.Context) {
		err := secureMiddleware.Process(c.Writer, c.Request)
		if err != nil {
			c.Abort()
			return
		}
	})

	proctorHandler := handlers.NewProctorHandler(log, deps.Service)
	reviewHandler := handlers.NewReviewHandler(log, deps.Service, deps.Timeline)
	healthHandler := handlers.NewHealthHandler(deps.Service, deps.MQTT)

	rateLimitStore := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  time.Minute,
		Limit: conf.Server.StartRatePerMinute,
	})
	limiter := ratelimit.RateLimiter(rateLimitStore, &ratelimit.Options{
		ErrorHandler: errorHandler,
		KeyFunc:      keyFunc,
	})
	reviewer := ReviewerAuth(conf.Review.TokenHash, log)

	api := router.Group("/proctor")
	{
		api.POST("/start-session", limiter, proctorHandler.StartSession)
		api.POST("/frame", proctorHandler.ProcessFrame)
		api.POST("/end-session", proctorHandler.EndSession)
		api.POST("/browser-event", proctorHandler.BrowserEvent)
		api.POST("/heartbeat", proctorHandler.Heartbeat)
		api.GET("/health", healthHandler.Health)

		api.GET("/evidence/:session_id", reviewer, proctorHandler.Evidence)
		api.DELETE("/evidence/:session_id", reviewer, proctorHandler.ClearEvidence)
	}
	router.GET("/review/:session_id", reviewer, reviewHandler.ShowReview)

	return router
}
