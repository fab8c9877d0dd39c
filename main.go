package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/auth"
	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/handlers"
	"storefront/internal/mail"
	"storefront/internal/middleware"
	"storefront/internal/notify"
	"storefront/internal/orders"
	"storefront/internal/otp"
	"storefront/internal/payment"
	"storefront/internal/sms"
)

// app holds the wired services handed to the router.
type app struct {
	orders   *orders.Service
	otp      *otp.Service
	auth     *auth.Service
	payments *payment.Service

	users   *database.UserRepository
	carts   *database.CartRepository
	catalog *database.CatalogRepository

	health map[string]handlers.Pinger
}

func main() {
	config.Load()
	cfg := config.AppEnv
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	client, err := database.Connect(cfg.MongoURI)
	if err != nil {
		log.Fatal(err)
	}
	db := client.Database(cfg.DBName)
	log.Println("MongoDB connected to:", db.Name())

	for name, err := range database.EnsureIndexes(db) {
		log.Printf("[DB] [WARN] %s index warning: %v", name, err)
	}

	users := database.NewUserRepository(db)
	orderRepo := database.NewOrderRepository(db)

	a := &app{
		users:   users,
		carts:   database.NewCartRepository(db),
		catalog: database.NewCatalogRepository(db),
		health: map[string]handlers.Pinger{
			"mongo": func(ctx context.Context) error { return database.Ping(ctx, db) },
		},
	}

	mailer := mail.New(mail.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
		FromName: cfg.MailFromName,
	})
	texts := sms.New(sms.Config{
		Provider:         cfg.SMSProvider,
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		TwilioFrom:       cfg.TwilioFrom,
		Fast2SMSAPIKey:   cfg.Fast2SMSAPIKey,
	})

	var rdb *redis.Client
	var otpStore otp.Store
	if cfg.OTPStore == config.OTPStoreRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		otpStore = otp.NewRedisStore(rdb)
		a.health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		log.Println("[OTP] [INFO] using redis challenge store at", cfg.RedisAddr)
	} else {
		otpStore = otp.NewMemoryStore()
		log.Println("[OTP] [WARN] in-memory challenge store; codes are lost on restart and not shared between instances, set OTP_STORE=redis")
	}
	a.otp = otp.NewService(otpStore, users, otp.NewDelivery(mailer, texts, cfg.StoreName))

	dispatcher := notify.NewDispatcher(mailer, users, notify.NewContent(cfg.StoreName, cfg.CurrencySymbol, cfg.StoreTimezone))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var publisher notify.Publisher = dispatcher
	var broker *notify.AMQPPublisher
	if cfg.NotifyTransport == config.NotifyAMQP {
		broker, err = notify.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatal(err)
		}
		if err := broker.Consume(ctx, cfg.AMQPQueue, dispatcher); err != nil {
			log.Fatal(err)
		}
		publisher = broker
		log.Println("[NOTIFY] [INFO] publishing order events to exchange", cfg.AMQPExchange)
	}

	a.orders = orders.NewService(orderRepo, users, publisher, orders.WithStrictTransitions(cfg.StrictTransitions))
	a.auth = auth.NewService(users, database.NewRefreshTokenRepository(db), auth.Config{
		Secret:      cfg.JWTSecret,
		AccessTTL:   cfg.AccessTokenTTL,
		RefreshTTL:  cfg.RefreshTokenTTL,
		OwnerEmails: cfg.OwnerEmails,
	})
	a.payments = payment.NewService(orderRepo, users, payment.Config{
		Key:         cfg.PayUKey,
		Salt:        cfg.PayUSalt,
		GatewayURL:  cfg.PayUURL,
		CallbackURL: cfg.PublicBaseURL + "/payments/callback",
		SuccessURL:  cfg.PaymentSuccessURL,
		FailureURL:  cfg.PaymentFailureURL,
	})
	if !a.payments.Enabled() {
		log.Println("[PAYMENT] [WARN] PAYU_KEY/PAYU_SALT not set, online payments disabled")
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: newRouter(a, cfg.JWTSecret),
	}

	go func() {
		log.Println("[HTTP] [INFO] listening on", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("[HTTP] [INFO] shutting down")
	shutdown(srv, dispatcher, broker, rdb, client, cfg.ShutdownTimeout)
}

func newRouter(a *app, secret string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), middleware.RequestID())

	userAuth := middleware.UserAuth(secret)
	ownerAuth := middleware.OwnerAuth(secret)

	r.GET("/health", handlers.Health(a.health))

	r.GET("/products", handlers.GetProducts(a.catalog))
	r.GET("/products/:id", handlers.GetProduct(a.catalog))
	r.GET("/categories", handlers.GetCategories(a.catalog))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", handlers.Register(a.auth))
		authGroup.POST("/login", handlers.Login(a.auth))
		authGroup.POST("/refresh", handlers.Refresh(a.auth))
		authGroup.POST("/logout", handlers.Logout(a.auth))
		authGroup.GET("/me", userAuth, handlers.GetMe(a.auth))
		authGroup.POST("/send-otp", handlers.SendOTP(a.otp))
		authGroup.POST("/verify-otp", handlers.VerifyOTP(a.otp))
	}

	ordersGroup := r.Group("/orders")
	{
		ordersGroup.POST("", userAuth, handlers.CreateOrder(a.orders, a.users))
		ordersGroup.GET("/my", userAuth, handlers.GetMyOrders(a.orders))
		ordersGroup.GET("", ownerAuth, handlers.GetOrders(a.orders))
		ordersGroup.GET("/pending-count", ownerAuth, handlers.GetPendingOrderCount(a.orders))
		ordersGroup.PATCH("/:id", ownerAuth, handlers.UpdateOrderStatus(a.orders))
	}

	cart := r.Group("/cart")
	cart.Use(userAuth)
	{
		cart.GET("", handlers.GetCart(a.carts, a.catalog))
		cart.POST("/items", handlers.AddCartItem(a.carts, a.catalog))
		cart.PATCH("/items/:productId", handlers.UpdateCartItem(a.carts))
		cart.DELETE("/items/:productId", handlers.RemoveCartItem(a.carts))
		cart.DELETE("", handlers.ClearCart(a.carts))
	}

	user := r.Group("/user")
	user.Use(userAuth)
	{
		user.GET("/addresses", handlers.GetUserAddresses(a.users))
		user.POST("/addresses", handlers.CreateUserAddress(a.users))
		user.PUT("/addresses/:id", handlers.UpdateUserAddress(a.users))
		user.DELETE("/addresses/:id", handlers.DeleteUserAddress(a.users))
	}

	r.POST("/payments/initiate", userAuth, handlers.InitiatePayment(a.payments))
	r.POST("/payments/callback", handlers.PaymentCallback(a.payments))

	return r
}

// shutdown stops accepting requests, lets in-flight notifications finish,
// then closes the backing connections.
func shutdown(srv *http.Server, dispatcher *notify.Dispatcher, broker *notify.AMQPPublisher, rdb *redis.Client, client *mongo.Client, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Println("[HTTP] [ERROR] shutdown:", err)
	}
	if err := dispatcher.Wait(ctx); err != nil {
		log.Println("[NOTIFY] [WARN] pending notifications abandoned:", err)
	}
	if broker != nil {
		if err := broker.Close(); err != nil {
			log.Println("[NOTIFY] [ERROR] amqp close:", err)
		}
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Println("[OTP] [ERROR] redis close:", err)
		}
	}
	if err := client.Disconnect(ctx); err != nil {
		log.Println("[DB] [ERROR] mongo disconnect:", err)
	}
}
