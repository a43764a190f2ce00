package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/middleware"
	"github.com/bitfantasy/nimo-commerce/internal/shared/cache"
	"github.com/bitfantasy/nimo-commerce/internal/shared/events"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TestSchema = "test_mkt"
	JWTSecret  = "nimo-commerce-test-secret"
)

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Router *gin.Engine
	T      *testing.T
}

// projectRoot returns the project root directory by looking for go.mod
func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func loadEnv() {
	if root := projectRoot(); root != "" {
		godotenv.Load(filepath.Join(root, ".env"))
	}
}

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// startContainer 启动一次性 postgres 容器，整个测试进程共享，由 testcontainers reaper 回收
func startContainer() (string, error) {
	containerOnce.Do(func() {
		ctx := context.Background()
		pg, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("nimo_commerce"),
			tcpostgres.WithUsername("nimo"),
			tcpostgres.WithPassword("nimo123"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			containerErr = err
			return
		}
		host, err := pg.Host(ctx)
		if err != nil {
			containerErr = err
			pg.Terminate(ctx)
			return
		}
		port, err := pg.MappedPort(ctx, "5432/tcp")
		if err != nil {
			containerErr = err
			pg.Terminate(ctx)
			return
		}
		containerDSN = fmt.Sprintf("host=%s port=%s user=nimo password=nimo123 dbname=nimo_commerce sslmode=disable",
			host, port.Port())
	})
	return containerDSN, containerErr
}

func baseDSN(t *testing.T) string {
	t.Helper()
	loadEnv()
	if os.Getenv("TEST_PG_CONTAINER") == "1" {
		dsn, err := startContainer()
		if err != nil {
			t.Skipf("postgres container unavailable: %v", err)
		}
		return dsn
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("DB_HOST", "127.0.0.1"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_USER", "nimo"),
		getEnv("DB_PASSWORD", "nimo123"),
		getEnv("DB_NAME", "nimo_commerce"))
}

// SetupTestDB 为每个测试创建独立 schema 并迁移全部表，测试结束后删除
// 数据库不可达时跳过测试
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := baseDSN(t)
	schemaName := fmt.Sprintf("%s_%s", TestSchema, strings.ReplaceAll(uuid.NewString()[:8], "-", ""))

	setupDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("database unavailable: %v", err)
	}
	sqlSetup, _ := setupDB.DB()
	if err := sqlSetup.Ping(); err != nil {
		sqlSetup.Close()
		t.Skipf("database unavailable: %v", err)
	}
	setupDB.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName))
	sqlSetup.Close()

	// search_path 写入 DSN，连接池中所有连接都使用测试 schema
	db, err := gorm.Open(postgres.Open(fmt.Sprintf("%s search_path=%s", dsn, schemaName)), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := entity.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, _ := db.DB(); sqlDB != nil {
			sqlDB.Close()
		}
		cleanDB, cleanErr := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if cleanErr == nil {
			cleanDB.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
			if sqlClean, _ := cleanDB.DB(); sqlClean != nil {
				sqlClean.Close()
			}
		}
	})
	return db
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name, email string, roles, permissions []string) string {
	if roles == nil {
		roles = []string{}
	}
	if permissions == nil {
		permissions = []string{}
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"email": email,
		"roles": roles,
		"perms": permissions,
		"iss":   "nimo-commerce",
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
		"jti":   fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// VendorTestToken 商家账号令牌，只能访问 vendorID 的数据
func VendorTestToken(userID, vendorID string) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"uid":       userID,
		"name":      "Vendor " + vendorID,
		"roles":     []string{"vendor"},
		"vendor_id": vendorID,
		"iss":       "nimo-commerce",
		"iat":       now.Unix(),
		"exp":       now.Add(time.Hour).Unix(),
	}
	tokenString, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken returns a token for a default admin test user
func DefaultTestToken() string {
	return GenerateTestToken("test-user-001", "Test Admin", "admin@test.com",
		[]string{"commerce_admin"}, []string{"*"})
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string, headers ...string) *httptest.ResponseRecorder {
	var reqBody io.Reader = bytes.NewBuffer(nil)
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	}
	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// ---- seeds ----

// SeedVendor creates an approved vendor
func SeedVendor(t *testing.T, db *gorm.DB, name string, commissionRate string) *entity.Vendor {
	t.Helper()
	now := time.Now()
	v := &entity.Vendor{
		ID:                entity.VendorID(uuid.NewString()),
		StoreName:         name,
		StoreSlug:         strings.ToLower(strings.ReplaceAll(name, " ", "-")) + "-" + uuid.NewString()[:6],
		CommissionRate:    decimal.RequireFromString(commissionRate),
		Status:            entity.VendorStatusApproved,
		BankName:          "Test Bank",
		BankAccountNumber: "000111222333",
		BankIFSC:          "TEST0000001",
		BankAccountHolder: name,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("Failed to seed vendor: %v", err)
	}
	return v
}

// SeedWarehouse creates an active warehouse
func SeedWarehouse(t *testing.T, db *gorm.DB, code string) *entity.Warehouse {
	t.Helper()
	now := time.Now()
	w := &entity.Warehouse{
		ID:        entity.WarehouseID(uuid.NewString()),
		Code:      code + "-" + uuid.NewString()[:6],
		Name:      "Warehouse " + code,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(w).Error; err != nil {
		t.Fatalf("Failed to seed warehouse: %v", err)
	}
	return w
}

// SeedInventory creates an inventory record with the given on-hand quantity
func SeedInventory(t *testing.T, db *gorm.DB, vendorID entity.VendorID, warehouseID entity.WarehouseID, name string, qty int, price string) *entity.InventoryRecord {
	t.Helper()
	now := time.Now()
	rec := &entity.InventoryRecord{
		ID:                entity.InventoryID(uuid.NewString()),
		ProductID:         entity.ProductID(uuid.NewString()),
		WarehouseID:       warehouseID,
		VendorID:          vendorID,
		ProductName:       name,
		SKU:               strings.ToUpper(strings.ReplaceAll(name, " ", "-")),
		Quantity:          qty,
		LowStockThreshold: entity.DefaultLowStockThreshold,
		BuyPrice:          decimal.RequireFromString(price).Div(decimal.NewFromInt(2)).Round(2),
		SellPrice:         decimal.RequireFromString(price),
		MRP:               decimal.RequireFromString(price),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	rec.RefreshStockStatus()
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("Failed to seed inventory: %v", err)
	}
	return rec
}

// SeedAgent creates an active delivery agent bound to userID
func SeedAgent(t *testing.T, db *gorm.DB, userID, name string) *entity.DeliveryAgent {
	t.Helper()
	now := time.Now()
	a := &entity.DeliveryAgent{
		ID:          entity.DeliveryAgentID(uuid.NewString()),
		UserID:      userID,
		Name:        name,
		Phone:       "9000000000",
		VehicleType: "bike",
		Status:      entity.AgentStatusActive,
		IsAvailable: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("Failed to seed delivery agent: %v", err)
	}
	return a
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ---- fakes ----

// Publisher 记录已发布事件；PublishFunc 非空时由其决定返回值
type Publisher struct {
	mu          sync.Mutex
	Events      []events.Event
	PublishFunc func(ctx context.Context, evts ...events.Event) error
}

func (p *Publisher) Publish(ctx context.Context, evts ...events.Event) error {
	p.mu.Lock()
	p.Events = append(p.Events, evts...)
	p.mu.Unlock()
	if p.PublishFunc != nil {
		return p.PublishFunc(ctx, evts...)
	}
	return nil
}

func (p *Publisher) Close() error { return nil }

// Types 已发布事件类型（按顺序）
func (p *Publisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Events))
	for i, e := range p.Events {
		out[i] = e.Type
	}
	return out
}

// Count 指定类型的事件数量
func (p *Publisher) Count(typ string) int {
	n := 0
	for _, t := range p.Types() {
		if t == typ {
			n++
		}
	}
	return n
}

// ObjectStore 内存对象存储
type ObjectStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
	PutFunc func(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{Objects: make(map[string][]byte)}
}

func (s *ObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if s.PutFunc != nil {
		return s.PutFunc(ctx, key, r, size, contentType)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.Objects[key] = data
	s.mu.Unlock()
	return nil
}

func (s *ObjectStore) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://objects.test/%s?expires=%d", key, int(expiry.Seconds())), nil
}

// IdempotencyStore 内存幂等键存储
type IdempotencyStore struct {
	mu      sync.Mutex
	Records map[string]cache.Record
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{Records: make(map[string]cache.Record)}
}

func (s *IdempotencyStore) Begin(ctx context.Context, key string, ttl time.Duration) (*cache.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.Records[key]; ok {
		return &rec, false, nil
	}
	s.Records[key] = cache.Record{Pending: true}
	return nil, true, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, rec cache.Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Records[key] = rec
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Records, key)
	return nil
}
