package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	catalogdomain "github.com/smallbiznis/kirana/internal/catalog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  catalogdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  catalogdomain.Repository
}

func NewService(p Params) catalogdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) CreateProduct(ctx context.Context, req catalogdomain.CreateProductRequest) (*catalogdomain.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, catalogdomain.ErrInvalidName
	}
	if req.Price <= 0 {
		return nil, catalogdomain.ErrInvalidPrice
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := time.Now().UTC()
	product := catalogdomain.Product{
		ID:          s.genID.Generate(),
		Slug:        slug.Make(name),
		Name:        name,
		Description: req.Description,
		Price:       req.Price,
		Active:      active,
		Metadata:    datatypes.JSONMap(req.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.CreateProduct(ctx, s.db, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (*catalogdomain.Product, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, catalogdomain.ErrProductNotFound
	}
	return s.repo.FindProductByID(ctx, s.db, parsed)
}

func (s *Service) ListProducts(ctx context.Context, req catalogdomain.ListProductsRequest) ([]catalogdomain.Product, error) {
	return s.repo.FindProducts(ctx, s.db, req)
}

func (s *Service) CreateWarehouse(ctx context.Context, req catalogdomain.CreateWarehouseRequest) (*catalogdomain.Warehouse, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return nil, catalogdomain.ErrInvalidCode
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, catalogdomain.ErrInvalidName
	}

	pincodes := make([]string, 0, len(req.Pincodes))
	for _, pincode := range req.Pincodes {
		pincode = strings.TrimSpace(pincode)
		if pincode == "" {
			continue
		}
		pincodes = append(pincodes, pincode)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := time.Now().UTC()
	warehouse := catalogdomain.Warehouse{
		ID:        s.genID.Generate(),
		Code:      code,
		Name:      name,
		Pincodes:  datatypes.NewJSONSlice(pincodes),
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateWarehouse(ctx, s.db, &warehouse); err != nil {
		return nil, err
	}
	return &warehouse, nil
}

func (s *Service) GetWarehouse(ctx context.Context, id string) (*catalogdomain.Warehouse, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, catalogdomain.ErrWarehouseNotFound
	}
	return s.repo.FindWarehouseByID(ctx, s.db, parsed)
}

func (s *Service) ListWarehouses(ctx context.Context) ([]catalogdomain.Warehouse, error) {
	return s.repo.FindWarehouses(ctx, s.db, false)
}

func (s *Service) ResolveWarehouse(ctx context.Context, pincode string) (*catalogdomain.Warehouse, error) {
	pincode = strings.TrimSpace(pincode)
	if pincode == "" {
		return nil, catalogdomain.ErrInvalidPincode
	}

	warehouses, err := s.repo.FindWarehouses(ctx, s.db, true)
	if err != nil {
		return nil, err
	}
	for i := range warehouses {
		if warehouses[i].ServesPincode(pincode) {
			return &warehouses[i], nil
		}
	}
	return nil, catalogdomain.ErrPincodeNotServiceable
}
