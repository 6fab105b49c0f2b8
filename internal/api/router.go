package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thanhnp/supplychain-ledger/internal/api/handlers"
	"github.com/thanhnp/supplychain-ledger/internal/api/middleware"
	"github.com/thanhnp/supplychain-ledger/internal/ledger"
)

// Options configures the router
type Options struct {
	CORSOrigin   string
	DefaultProof int64
	// Gatherer serves /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// Router wraps the Gin router with handlers
type Router struct {
	engine         *gin.Engine
	ledger         *ledger.Ledger
	opts           Options
	blockHandler   *handlers.BlockHandler
	txHandler      *handlers.TxHandler
	productHandler *handlers.ProductHandler
}

// NewRouter creates a new Router with all handlers
func NewRouter(l *ledger.Ledger, opts Options) *Router {
	gin.SetMode(gin.ReleaseMode)

	r := &Router{
		engine:         gin.New(),
		ledger:         l,
		opts:           opts,
		blockHandler:   handlers.NewBlockHandler(l, opts.DefaultProof),
		txHandler:      handlers.NewTxHandler(l),
		productHandler: handlers.NewProductHandler(l, opts.DefaultProof),
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// setupMiddleware configures middleware
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.Logger())
	r.engine.Use(middleware.CORS(r.opts.CORSOrigin))
}

// setupRoutes configures API routes
func (r *Router) setupRoutes() {
	// Health check
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"length": r.ledger.Length(),
		})
	})

	if r.opts.Gatherer != nil {
		r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.engine.Group("/api/v1")
	{
		chain := v1.Group("/chain")
		{
			chain.GET("", r.blockHandler.GetChain)
			chain.GET("/verify", r.blockHandler.Verify)
		}

		blocks := v1.Group("/blocks")
		{
			blocks.POST("", r.blockHandler.Seal)
			blocks.GET("/latest", r.blockHandler.GetLatest)
			blocks.GET("/:index", middleware.PositiveID("index"), r.blockHandler.GetByIndex)
		}

		txs := v1.Group("/transactions")
		{
			txs.POST("", r.txHandler.Record)
			txs.GET("/pending", r.txHandler.GetPending)
		}

		// Product IDs are accepted as any integer by POST /transactions
		products := v1.Group("/products/:id")
		products.Use(middleware.IntegerID("id"))
		{
			products.POST("/events", r.productHandler.RecordEvent)
			products.GET("/history", r.productHandler.GetHistory)
		}
	}
}

// Engine returns the underlying Gin engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
