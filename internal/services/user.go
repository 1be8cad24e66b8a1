package services

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"services-market-backend/internal/apperr"
	"services-market-backend/internal/models"
	"services-market-backend/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	jwtExpDays        = 365
	minPasswordLength = 6
)

// UserService handles registration, login and profiles
type UserService struct {
	users          repository.UserStore
	listings       *ListingService
	jwtSecret      string
	initialBalance int64
	now            func() time.Time
}

// NewUserService creates a new user service
func NewUserService(store repository.Store, listings *ListingService, jwtSecret string, initialBalance int64) *UserService {
	return &UserService{
		users:          store.Users(),
		listings:       listings,
		jwtSecret:      jwtSecret,
		initialBalance: initialBalance,
		now:            time.Now,
	}
}

// RegisterRequest carries the registration form
type RegisterRequest struct {
	Email     string             `json:"email"`
	Password  string             `json:"password"`
	Kind      models.AccountKind `json:"kind"`
	Name      string             `json:"name"`
	FirstName string             `json:"first_name"`
	LastName  string             `json:"last_name"`
	Phone     string             `json:"phone"`
	BirthDate string             `json:"birth_date"`
	Company   *models.Company    `json:"company"`
}

// AuthResponse is returned by register and login
type AuthResponse struct {
	Token   string          `json:"token"`
	Profile *models.Profile `json:"profile"`
}

// GenerateJWT generates a JWT token for a user
func (s *UserService) GenerateJWT(userID string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     now.AddDate(0, 0, jwtExpDays).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT validates a JWT token and returns the user ID
func (s *UserService) ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user_id not found in token")
	}

	return userID, nil
}

// Register creates a user with its profile and the initial balance
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	const op = "register"

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Validation(op, "invalid email address")
	}
	if len(req.Password) < minPasswordLength {
		return nil, apperr.Validation(op, "password must be at least %d characters", minPasswordLength)
	}
	if req.Kind == "" {
		req.Kind = models.AccountPerson
	}
	if !req.Kind.Valid() {
		return nil, apperr.Validation(op, "unknown account kind %q", req.Kind)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		Kind:         req.Kind,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}
	profile := &models.Profile{
		UserID:    user.ID,
		Name:      displayName(req),
		Email:     email,
		Kind:      req.Kind,
		Balance:   s.initialBalance,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Phone:     strings.TrimSpace(req.Phone),
		BirthDate: req.BirthDate,
		CreatedAt: now,
	}
	if req.Kind == models.AccountCompany {
		profile.Company = req.Company
	}
	if err := profile.Validate(); err != nil {
		return nil, apperr.Validation(op, "%v", err)
	}

	if err := s.users.CreateWithProfile(ctx, user, profile); err != nil {
		return nil, err
	}

	token, err := s.GenerateJWT(user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, Profile: profile}, nil
}

func displayName(req RegisterRequest) string {
	if req.Kind == models.AccountCompany && req.Company != nil {
		return strings.TrimSpace(req.Company.Name)
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		return name
	}
	return strings.TrimSpace(req.FirstName + " " + req.LastName)
}

// Login checks the password and issues a token
func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	const op = "login"

	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.Unauthorized(op, "invalid email or password")
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Unauthorized(op, "invalid email or password")
	}

	profile, err := s.users.GetProfile(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	token, err := s.GenerateJWT(user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, Profile: profile}, nil
}

// GetProfile returns the caller's own profile including the balance
func (s *UserService) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	return s.users.GetProfile(ctx, userID)
}

// ProfileUpdate holds the self editable profile fields. Nil means unchanged.
type ProfileUpdate struct {
	Name      *string         `json:"name"`
	FirstName *string         `json:"first_name"`
	LastName  *string         `json:"last_name"`
	Phone     *string         `json:"phone"`
	BirthDate *string         `json:"birth_date"`
	Company   *models.Company `json:"company"`
}

// UpdateProfile merges the provided fields into the profile
func (s *UserService) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*models.Profile, error) {
	profile, err := s.users.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	setString(&profile.Name, upd.Name)
	setString(&profile.FirstName, upd.FirstName)
	setString(&profile.LastName, upd.LastName)
	setString(&profile.Phone, upd.Phone)
	setString(&profile.BirthDate, upd.BirthDate)
	if upd.Company != nil {
		if profile.Kind != models.AccountCompany {
			return nil, apperr.Validation("update profile", "company details are only allowed for company accounts")
		}
		profile.Company = upd.Company
	}
	if err := profile.Validate(); err != nil {
		return nil, apperr.Validation("update profile", "%v", err)
	}
	if err := s.users.UpdateProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// UpdatePushToken stores or clears the APNs device token of a user
func (s *UserService) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	if pushToken != nil && strings.TrimSpace(*pushToken) == "" {
		pushToken = nil
	}
	return s.users.UpdatePushToken(ctx, userID, pushToken)
}

// SearchUsers matches the query against name, email and phone, ignoring case and diacritics
func (s *UserService) SearchUsers(ctx context.Context, query string) ([]models.Profile, error) {
	needle := foldText(query)
	if needle == "" {
		return []models.Profile{}, nil
	}
	profiles, err := s.users.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}

	results := []models.Profile{}
	for _, p := range profiles {
		haystack := foldText(strings.Join([]string{p.FirstName, p.LastName, p.Name, p.Email, p.Phone}, " "))
		if strings.Contains(haystack, needle) {
			results = append(results, p.Public())
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results, nil
}

// PublicProfileView is what other users see of a profile
type PublicProfileView struct {
	Profile  models.Profile    `json:"profile"`
	Listings []*models.Listing `json:"listings"`
}

// PublicProfile returns a profile without billing data plus the user's active listings
func (s *UserService) PublicProfile(ctx context.Context, userID string) (*PublicProfileView, error) {
	profile, err := s.users.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	listings, err := s.listings.ListOwnerListings(ctx, userID, OwnerFilter{Status: models.StatusActive})
	if err != nil {
		return nil, err
	}
	return &PublicProfileView{Profile: profile.Public(), Listings: listings}, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}
