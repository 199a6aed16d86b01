package httpapi

import (
	"net/http"

	"venue-loyalty/pkg/config"
	"venue-loyalty/services/catalog"
	"venue-loyalty/services/customer"
	"venue-loyalty/services/ledger"
	"venue-loyalty/services/redemption"
	"venue-loyalty/services/settings"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

// Handler is the thin HTTP surface over the services. It binds JSON,
// resolves the session, invokes exactly one operation and translates the
// error code; no business rules live here.
type Handler struct {
	sessions *SessionStore

	settings   *settings.Service
	ledger     *ledger.Service
	customer   *customer.Service
	catalog    *catalog.Service
	redemption *redemption.Service
}

type HandlerParams struct {
	fx.In
	Sessions   *SessionStore
	Settings   *settings.Service
	Ledger     *ledger.Service
	Customer   *customer.Service
	Catalog    *catalog.Service
	Redemption *redemption.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		sessions:   p.Sessions,
		settings:   p.Settings,
		ledger:     p.Ledger,
		customer:   p.Customer,
		catalog:    p.Catalog,
		redemption: p.Redemption,
	}
}

func NewEngine(cfg *config.Config, h *Handler) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api/v1")
	{
		api.POST("/auth/admin/login", h.adminLogin)
		api.POST("/auth/customer/login", h.customerLogin)
		api.POST("/auth/logout", h.logout)
		api.POST("/customers", h.register)
	}

	me := api.Group("/me", h.requireCustomer())
	{
		me.GET("/profile", h.myProfile)
		me.GET("/ledger", h.myLedger)
		me.GET("/checkins", h.myCheckIns)
		me.GET("/can-checkin", h.myCanCheckIn)
		me.POST("/checkin", h.myCheckIn)
		me.POST("/password", h.mySetPassword)
		me.GET("/products", h.listProducts)
		me.GET("/redemptions", h.myRedemptions)
		me.POST("/redemptions", h.mySubmitRedemption)
	}

	admin := api.Group("/admin", h.requireAdmin())
	{
		admin.GET("/settings", h.getSettings)
		admin.PUT("/settings", h.updateSettings)
		admin.PUT("/settings/logo", h.setLogo)

		admin.GET("/customers", h.listCustomers)
		admin.GET("/customers/:id", h.customerProfile)
		admin.PUT("/customers/:id", h.updateCustomer)
		admin.DELETE("/customers/:id", h.deleteCustomer)
		admin.POST("/customers/:id/credit", h.creditPoints)
		admin.POST("/customers/:id/checkin", h.adminCheckIn)
		admin.GET("/customers/:id/ledger", h.customerLedger)

		admin.GET("/ranking", h.ranking)
		admin.GET("/statistics", h.statistics)

		admin.GET("/products", h.adminListProducts)
		admin.POST("/products", h.createProduct)
		admin.PUT("/products/:id", h.updateProduct)
		admin.PUT("/products/:id/active", h.setProductActive)
		admin.DELETE("/products/:id", h.deleteProduct)

		admin.GET("/redemptions", h.listRedemptions)
		admin.POST("/redemptions/:id/decide", h.decideRedemption)
	}

	return engine
}

var Module = fx.Module("httpapi",
	fx.Provide(
		NewSessionStore,
		NewHandler,
		NewEngine,
	),
)
