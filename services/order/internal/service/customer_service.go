package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sakashimaa/go-order-management/pkg/mylogger"
	"github.com/sakashimaa/go-order-management/services/order/internal/domain"
	"github.com/sakashimaa/go-order-management/services/order/internal/repository"
	"github.com/sakashimaa/go-order-management/services/order/pkg/validator"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CustomerService interface {
	Create(ctx context.Context, input domain.CreateCustomerInput) (*domain.Customer, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error)
	List(ctx context.Context, limit, offset int64) ([]domain.Customer, int64, error)
}

type customerService struct {
	customerRepo repository.CustomerRepository
	validator    validator.Validator
	logger       *zap.Logger
	tracer       trace.Tracer
}

func NewCustomerService(customerRepo repository.CustomerRepository, validator validator.Validator, logger *zap.Logger) CustomerService {
	return &customerService{
		customerRepo: customerRepo,
		validator:    validator,
		logger:       logger,
		tracer:       otel.Tracer("customer_service"),
	}
}

func (s *customerService) Create(ctx context.Context, input domain.CreateCustomerInput) (*domain.Customer, error) {
	ctx, span := s.tracer.Start(ctx, "CustomerService.Create")
	defer span.End()

	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)

	if err := s.validator.ValidateStruct(input); err != nil {
		return nil, invalidInput(err)
	}

	customer := &domain.Customer{
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Email:     input.Email,
	}

	if err := s.customerRepo.Create(ctx, customer); err != nil {
		if errors.Is(err, repository.ErrCustomerEmailTaken) {
			return nil, err
		}

		span.RecordError(err)
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	span.SetAttributes(attribute.String("customer_id", customer.ID.String()))

	mylogger.Info(
		ctx,
		s.logger,
		"Customer created",
		zap.String("customer_id", customer.ID.String()),
	)

	return customer, nil
}

func (s *customerService) FindByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error) {
	ctx, span := s.tracer.Start(ctx, "CustomerService.FindByID")
	defer span.End()

	customer, err := s.customerRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) {
			return nil, &NotFoundError{Entity: "customer", IDs: []uuid.UUID{id}}
		}

		span.RecordError(err)
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return customer, nil
}

func (s *customerService) List(ctx context.Context, limit, offset int64) ([]domain.Customer, int64, error) {
	customers, total, err := s.customerRepo.List(ctx, limit, offset)
	if err != nil {
		mylogger.Error(ctx, s.logger, "list error", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list customers: %w", err)
	}

	return customers, total, nil
}
