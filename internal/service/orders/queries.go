package orders

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100

	// maxPage держит offset = (page-1)*limit в пределах int32.
	maxPage = 1_000_000
)

// PageRequest — номер страницы (с 1) и размер страницы.
type PageRequest struct {
	Page  int
	Limit int
}

func (p PageRequest) normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Page > maxPage {
		p.Page = maxPage
	}
	if p.Limit < 1 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p
}

// ListQuery — фильтры административного списка.
type ListQuery struct {
	PageRequest
	Status    string
	OrderType string
}

// Page — страница заказов с метаданными пагинации.
type Page struct {
	Orders []domain.Order
	Total  int
	Page   int
	Limit  int
	Pages  int
}

// Get возвращает заказ владельцу или администратору.
func (s *Service) Get(ctx context.Context, actor domain.Actor, id string) (order domain.Order, err error) {
	ctx, finish := s.begin(ctx, "get", attribute.String("order.id", id))
	defer func() { finish(err) }()
	return s.load(ctx, actor, id)
}

// ListMine возвращает заказы текущего пользователя.
func (s *Service) ListMine(ctx context.Context, actor domain.Actor, page PageRequest) (result Page, err error) {
	ctx, finish := s.begin(ctx, "list_mine")
	defer func() { finish(err) }()

	if actor.Anonymous() {
		return Page{}, domain.Unauthorized(domain.ErrNotAuthorized)
	}
	return s.list(ctx, domain.OrderFilter{UserID: actor.UserID}, page)
}

// ListDistributor возвращает B2B-заказы: дистрибьютору — свои, администратору — все.
func (s *Service) ListDistributor(ctx context.Context, actor domain.Actor, page PageRequest) (result Page, err error) {
	ctx, finish := s.begin(ctx, "list_distributor")
	defer func() { finish(err) }()

	filter := domain.OrderFilter{OrderType: domain.OrderTypeB2B}
	switch {
	case actor.Anonymous():
		return Page{}, domain.Unauthorized(domain.ErrNotAuthorized)
	case actor.IsAdmin():
	case actor.Role == domain.RoleDistributor:
		filter.UserID = actor.UserID
	default:
		return Page{}, domain.Forbidden(domain.ErrNotAuthorized)
	}
	return s.list(ctx, filter, page)
}

// ListAll — административный список с фильтрами по статусу и типу заказа.
func (s *Service) ListAll(ctx context.Context, actor domain.Actor, query ListQuery) (result Page, err error) {
	ctx, finish := s.begin(ctx, "list_all")
	defer func() { finish(err) }()

	if err := requireAdmin(actor); err != nil {
		return Page{}, err
	}
	var filter domain.OrderFilter
	if query.Status != "" {
		status, err := domain.ParseOrderStatus(query.Status)
		if err != nil {
			return Page{}, err
		}
		filter.Status = status
	}
	if query.OrderType != "" {
		orderType, err := domain.ParseOrderType(query.OrderType)
		if err != nil {
			return Page{}, err
		}
		filter.OrderType = orderType
	}
	return s.list(ctx, filter, query.PageRequest)
}

// Timeline возвращает историю заказа владельцу или администратору.
func (s *Service) Timeline(ctx context.Context, actor domain.Actor, id string) (events []domain.TimelineEvent, err error) {
	ctx, finish := s.begin(ctx, "timeline", attribute.String("order.id", id))
	defer func() { finish(err) }()

	if _, err := s.load(ctx, actor, id); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	events, err = s.timeline.List(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list timeline %s: %w", id, err)
	}
	return events, nil
}

func (s *Service) list(ctx context.Context, filter domain.OrderFilter, page PageRequest) (Page, error) {
	page = page.normalize()
	filter.Offset = (page.Page - 1) * page.Limit
	filter.Limit = page.Limit

	orders, total, err := s.orders.List(ctx, filter)
	if err != nil {
		return Page{}, fmt.Errorf("list orders: %w", err)
	}
	pages := (total + page.Limit - 1) / page.Limit
	return Page{
		Orders: orders,
		Total:  total,
		Page:   page.Page,
		Limit:  page.Limit,
		Pages:  pages,
	}, nil
}
