package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-patient-auth/middleware/csrf"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
	"github.com/google/uuid"
)

const (
	// LoginModeLogin shows the sign in tab
	LoginModeLogin = "login"
	// LoginModeSignup shows the patient sign up tab
	LoginModeSignup = "signup"

	viewIDLocal    = "portal_view_id"
	viewKnownLocal = "portal_view_known"
)

// SynchronizerSource hands out the synchronizer for a view id
type SynchronizerSource interface {
	Acquire(ctx context.Context, viewID string) (*Synchronizer, error)
}

// RequestLimiter throttles credential submissions, *ratelimit.Limiter
// satisfies it.
type RequestLimiter interface {
	Handler(errorHandler ...router.ErrorHandler) router.MiddlewareFunc
}

type AuthControllerRoutes struct {
	Root       string
	Login      string
	Register   string
	Logout     string
	Dashboard  string
	SessionAPI string
}

type AuthControllerViews struct {
	Layout    string
	Login     string
	Dashboard string
	Loading   string
	Error     string
}

// CookieOptions controls the view cookie
type CookieOptions struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

type AuthController struct {
	Debug         bool
	Logger        Logger
	Source        SynchronizerSource
	Guard         RouteGuard
	Routes        *AuthControllerRoutes
	Views         *AuthControllerViews
	Cookie        CookieOptions
	HydrateWait   time.Duration
	PhoneRegion   string
	Features      []string
	SubmitLimiter router.MiddlewareFunc
	CSRF          router.MiddlewareFunc
	ErrorHandler  router.ErrorHandler

	limiter    RequestLimiter
	csrfConfig *csrf.Config
}

type AuthControllerOption func(*AuthController) *AuthController

// WithSynchronizerSource sets where synchronizers come from, usually a *Registry
func WithSynchronizerSource(source SynchronizerSource) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Source = source
		return a
	}
}

// WithControllerLogger sets the controller logger
func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if logger != nil {
			a.Logger = logger
		}
		return a
	}
}

// WithControllerConfig applies cookie, hydration and phone settings
func WithControllerConfig(cfg Config) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if cfg == nil {
			return a
		}
		if name := cfg.GetCookieName(); name != "" {
			a.Cookie.Name = name
		}
		a.Cookie.Secure = cfg.GetCookieSecure()
		if ttl := cfg.GetCookieTTL(); ttl > 0 {
			a.Cookie.TTL = ttl
		}
		if wait := cfg.GetHydrateWait(); wait > 0 {
			a.HydrateWait = wait
		}
		a.PhoneRegion = cfg.GetPhoneRegion()
		return a
	}
}

// WithSubmitLimiter guards credential submissions. Rejected requests get
// the portal error page with a 429.
func WithSubmitLimiter(limiter RequestLimiter) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.limiter = limiter
		return a
	}
}

// WithCSRF protects the forms. Tokens are bound to the view cookie unless
// cfg.SessionKey is set.
func WithCSRF(cfg csrf.Config) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.csrfConfig = &cfg
		return a
	}
}

// WithDebug dumps payloads and states to the debug log
func WithDebug(debug bool) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Debug = debug
		return a
	}
}

// DefaultFeatures are the dashboard items that are not built yet
var DefaultFeatures = []string{
	"Agendamento de consultas",
	"Histórico de atendimentos",
	"Resultados de exames",
	"Mensagens com a clínica",
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: ResolveLogger("auth.http", nil, nil),
		Guard:  DefaultRouteGuard(),
		Routes: &AuthControllerRoutes{
			Root:       "/",
			Login:      "/login",
			Register:   "/register",
			Logout:     "/logout",
			Dashboard:  "/patient",
			SessionAPI: "/api/session",
		},
		Views: &AuthControllerViews{
			Layout:    "layouts/main",
			Login:     "login",
			Dashboard: "dashboard",
			Loading:   "loading",
			Error:     "errors/500",
		},
		Cookie: CookieOptions{
			Name: "portal_view",
			TTL:  30 * 24 * time.Hour,
		},
		HydrateWait: 2 * time.Second,
		Features:    DefaultFeatures,
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Source == nil {
		panic("Missing SynchronizerSource in auth controller...")
	}

	c.Guard = RouteGuard{Login: c.Routes.Login, Dashboard: c.Routes.Dashboard}

	if c.ErrorHandler == nil {
		c.ErrorHandler = c.renderError
	}

	if c.limiter != nil {
		c.SubmitLimiter = c.limiter.Handler(c.limitExceeded)
	}

	if c.csrfConfig != nil {
		cfg := *c.csrfConfig
		if cfg.SessionKey == nil {
			cfg.SessionKey = c.viewID
		}
		if cfg.ErrorHandler == nil {
			cfg.ErrorHandler = c.csrfFailed
		}
		c.CSRF = csrf.New(cfg)
	}

	return c
}

// RegisterRoutes mounts the portal routes. The catch all route goes last so
// unknown paths reach the guard. Sign out is only reachable by POST.
func RegisterRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)

	forms := []router.MiddlewareFunc{}
	if controller.CSRF != nil {
		forms = append(forms, controller.CSRF)
	}

	submit := []router.MiddlewareFunc{}
	if controller.SubmitLimiter != nil {
		submit = append(submit, controller.SubmitLimiter)
	}
	submit = append(submit, forms...)

	app.Get(controller.Routes.SessionAPI, controller.SessionShow).
		SetName("session.get")

	app.Get(controller.Routes.Login, controller.LoginShow, forms...).
		SetName("sign-in.get")
	app.Post(controller.Routes.Login, controller.LoginPost, submit...).
		SetName("sign-in.post")
	app.Post(controller.Routes.Register, controller.RegisterPost, submit...).
		SetName("register.post")

	app.Post(controller.Routes.Logout, controller.LogOut, forms...).
		SetName("sign-out.post")

	app.Get(controller.Routes.Dashboard, controller.DashboardShow, forms...).
		SetName("dashboard.get")

	app.Get("/*", controller.Fallback).SetName("fallback.get")

	return controller
}

// LoginShow renders the credential screen
func (a *AuthController) LoginShow(ctx router.Context) error {
	return a.guarded(ctx, func(state State) error {
		return a.renderLogin(ctx, loginView{mode: loginModeFrom(ctx.Query("mode", "")), state: state})
	})
}

// DashboardShow renders the patient dashboard
func (a *AuthController) DashboardShow(ctx router.Context) error {
	return a.guarded(ctx, func(state State) error {
		return ctx.Render(a.Views.Dashboard, router.ViewContext{
			"greeting_name":   state.DisplayName(),
			"email":           userEmail(state),
			"role":            state.Role.String(),
			"profile_warning": state.ProfileWarning,
			"features":        a.Features,
			"logout_action":   a.Routes.Logout,
			"csrf_token":      csrf.Token(ctx),
			"csrf_field":      csrf.FieldName(ctx),
		}, a.Views.Layout)
	})
}

// Fallback sends unknown paths through the guard, it never renders
func (a *AuthController) Fallback(ctx router.Context) error {
	return a.guarded(ctx, func(state State) error {
		target := a.Routes.Login
		if state.Authenticated() {
			target = a.Routes.Dashboard
		}
		return ctx.Redirect(target, fiber.StatusFound)
	})
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() *errors.Error {
	return errors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(
				&r.Email,
				validation.Required,
				is.Email,
			),
			validation.Field(
				&r.Password,
				validation.Required,
			),
		)
	}, "Informe e-mail e senha válidos")
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	s, err := a.synchronizer(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	state := a.settledState(ctx, s)
	if state.Authenticated() {
		return ctx.Redirect(a.Routes.Dashboard, fiber.StatusSeeOther)
	}

	record := router.ViewContext{"email": payload.Email}

	if err := payload.Validate(); err != nil {
		return a.renderLogin(flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Message,
			"system_message": "Error validating payload",
		}).Status(fiber.StatusBadRequest), loginView{
			mode:       LoginModeLogin,
			state:      state,
			record:     record,
			message:    err.Message,
			validation: err.ValidationMap(),
		})
	}

	if err := s.SignIn(ctx.Context(), strings.TrimSpace(payload.Email), payload.Password); err != nil {
		a.Logger.Info("sign in rejected", "error", err)
		return a.renderLogin(flash.WithError(ctx, router.ViewContext{
			"error_message":  UserMessage(err),
			"system_message": "Error signing in",
		}).Status(statusFor(err)), loginView{
			mode:    LoginModeLogin,
			state:   s.State(),
			record:  record,
			message: UserMessage(err),
		})
	}

	return ctx.Redirect(a.Routes.Dashboard, fiber.StatusSeeOther)
}

// RegisterRequest is the patient sign up payload
type RegisterRequest struct {
	Name      string `form:"name" json:"name"`
	Email     string `form:"email" json:"email"`
	Password  string `form:"password" json:"password"`
	Phone     string `form:"phone" json:"phone"`
	BirthDate string `form:"birth_date" json:"birth_date"`
}

// Validate will run validation rules
func (r RegisterRequest) Validate(now time.Time) *errors.Error {
	return errors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(
				&r.Name,
				validation.Required,
				validation.Length(2, 120),
			),
			validation.Field(
				&r.Email,
				validation.Required,
				is.Email,
			),
			validation.Field(
				&r.Password,
				validation.Required,
			),
			validation.Field(
				&r.BirthDate,
				validation.Date(BirthDateLayout),
				validation.By(notInFuture(now)),
			),
		)
	}, "Revise os dados do cadastro")
}

func notInFuture(now time.Time) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		t, err := time.Parse(BirthDateLayout, s)
		if err != nil {
			return nil
		}
		if t.After(now) {
			return fmt.Errorf("must not be in the future")
		}
		return nil
	}
}

// Input converts the payload, normalizing the phone when a region is set
func (r RegisterRequest) Input(region string) (SignUpPatientInput, error) {
	in := SignUpPatientInput{
		Name:     strings.TrimSpace(r.Name),
		Email:    strings.TrimSpace(r.Email),
		Password: r.Password,
	}

	phone, err := NormalizePhone(r.Phone, region)
	if err != nil {
		return in, err
	}
	in.Phone = phone

	if s := strings.TrimSpace(r.BirthDate); s != "" {
		t, err := time.Parse(BirthDateLayout, s)
		if err != nil {
			return in, errors.Wrap(err, errors.CategoryValidation, "Data de nascimento inválida")
		}
		in.BirthDate = &t
	}

	return in, nil
}

func (a *AuthController) RegisterPost(ctx router.Context) error {
	payload := new(RegisterRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	s, err := a.synchronizer(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	state := a.settledState(ctx, s)
	if state.Authenticated() {
		return ctx.Redirect(a.Routes.Dashboard, fiber.StatusSeeOther)
	}

	record := router.ViewContext{
		"name":       payload.Name,
		"email":      payload.Email,
		"phone":      payload.Phone,
		"birth_date": payload.BirthDate,
	}

	if a.Debug {
		a.Logger.Debug("register payload", "payload", print.MaybePrettyJSON(record))
	}

	if err := payload.Validate(time.Now()); err != nil {
		return a.renderLogin(flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Message,
			"system_message": "Error validating payload",
		}).Status(fiber.StatusBadRequest), loginView{
			mode:       LoginModeSignup,
			state:      state,
			record:     record,
			message:    err.Message,
			validation: err.ValidationMap(),
		})
	}

	input, err := payload.Input(a.PhoneRegion)
	if err != nil {
		return a.renderLogin(flash.WithError(ctx, router.ViewContext{
			"error_message":  UserMessage(err),
			"system_message": "Error validating payload",
		}).Status(fiber.StatusBadRequest), loginView{
			mode:    LoginModeSignup,
			state:   state,
			record:  record,
			message: UserMessage(err),
		})
	}

	if err := s.SignUpPatient(ctx.Context(), input); err != nil {
		a.Logger.Info("patient sign up failed", "error", err)
		return a.renderLogin(flash.WithError(ctx, router.ViewContext{
			"error_message":  UserMessage(err),
			"system_message": "Error registering patient",
		}).Status(statusFor(err)), loginView{
			mode:    LoginModeSignup,
			state:   s.State(),
			record:  record,
			message: UserMessage(err),
		})
	}

	after := s.State()
	if !after.Authenticated() {
		// provider requires confirmation before issuing a session
		notice := "Cadastro realizado. Entre com seu e-mail e senha."
		return a.renderLogin(flash.WithSuccess(ctx, router.ViewContext{
			"system_message": notice,
		}), loginView{
			mode:   LoginModeLogin,
			state:  after,
			record: router.ViewContext{"email": input.Email},
			notice: notice,
		})
	}

	return ctx.Redirect(a.Routes.Dashboard, fiber.StatusSeeOther)
}

// LogOut signs out and always lands on the login screen. A browser with no
// view cookie has nothing to sign out.
func (a *AuthController) LogOut(ctx router.Context) error {
	s, err := a.returningView(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if s != nil {
		if err := s.SignOut(ctx.Context()); err != nil {
			a.Logger.Warn("sign out completed locally only", "error", err)
		}
	}

	return ctx.Redirect(a.Routes.Login, fiber.StatusSeeOther)
}

// SessionView is the JSON shape of the view facing state. Tokens are
// never part of it.
type SessionView struct {
	Authenticated  bool            `json:"authenticated"`
	Loading        bool            `json:"loading"`
	User           *UserIdentity   `json:"user"`
	Session        *SessionSummary `json:"session"`
	Profile        *PatientProfile `json:"profile"`
	Role           string          `json:"role,omitempty"`
	ProfileWarning string          `json:"profile_warning,omitempty"`
	Version        uint64          `json:"version"`
}

// SessionSummary is the non secret part of a session
type SessionSummary struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// NewSessionView builds the JSON view of a state
func NewSessionView(state State) SessionView {
	view := SessionView{
		Authenticated:  state.Authenticated(),
		Loading:        state.Loading,
		User:           state.User,
		Profile:        state.Profile,
		Role:           state.Role.String(),
		ProfileWarning: state.ProfileWarning,
		Version:        state.Version,
	}
	if state.Session != nil {
		view.Session = &SessionSummary{ExpiresAt: state.Session.ExpiresAt}
	}
	return view
}

// SessionShow returns the current state as JSON without waiting for
// hydration.
func (a *AuthController) SessionShow(ctx router.Context) error {
	s, err := a.returningView(ctx)
	if err != nil {
		return ctx.JSON(fiber.StatusInternalServerError, router.ViewContext{
			"error": UserMessage(err),
		})
	}

	state := State{}
	if s != nil {
		state = s.State()
	}
	return ctx.JSON(fiber.StatusOK, NewSessionView(state))
}

func (a *AuthController) guarded(ctx router.Context, render func(State) error) error {
	s, err := a.returningView(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	state := State{}
	if s != nil {
		state = a.settledState(ctx, s)
	}
	decision := a.Guard.Decide(ctx.Path(), RouteStatusOf(state))

	if a.Debug {
		a.Logger.Debug("route guard",
			"path", ctx.Path(),
			"status", RouteStatusOf(state).String(),
			"action", decision.Action,
			"target", decision.Target,
		)
	}

	switch decision.Action {
	case ActionLoading:
		return ctx.Render(a.Views.Loading, router.ViewContext{
			"refresh_url": ctx.OriginalURL(),
		}, a.Views.Layout)
	case ActionRedirect:
		return ctx.Redirect(decision.Target, fiber.StatusFound)
	default:
		return render(state)
	}
}

func (a *AuthController) settledState(ctx router.Context, s *Synchronizer) State {
	if a.HydrateWait <= 0 {
		return s.State()
	}
	wctx, cancel := context.WithTimeout(ctx.Context(), a.HydrateWait)
	defer cancel()
	return s.WaitSettled(wctx)
}

// synchronizer acquires the synchronizer of the view, creating one for a
// first time browser. Only credential submissions take this path.
func (a *AuthController) synchronizer(ctx router.Context) (*Synchronizer, error) {
	return a.Source.Acquire(ctx.Context(), a.viewID(ctx))
}

// returningView acquires the synchronizer only when the browser sent a
// valid view cookie. A first visit has nothing to hydrate and returns nil,
// so cookie-less traffic never allocates registry entries.
func (a *AuthController) returningView(ctx router.Context) (*Synchronizer, error) {
	id := a.viewID(ctx)
	if known, _ := ctx.Locals(viewKnownLocal).(bool); !known {
		return nil, nil
	}
	return a.Source.Acquire(ctx.Context(), id)
}

// viewID reads the view cookie, issuing a fresh one when missing or
// malformed. The id is kept in locals so every handler of a request agrees.
func (a *AuthController) viewID(ctx router.Context) string {
	if id, ok := ctx.Locals(viewIDLocal).(string); ok && id != "" {
		return id
	}

	if id := ctx.Cookies(a.Cookie.Name); id != "" {
		if _, err := uuid.Parse(id); err == nil {
			ctx.Locals(viewIDLocal, id)
			ctx.Locals(viewKnownLocal, true)
			return id
		}
	}

	id := uuid.NewString()
	ctx.Cookie(&router.Cookie{
		Name:     a.Cookie.Name,
		Value:    id,
		Path:     "/",
		Expires:  time.Now().Add(a.Cookie.TTL),
		HTTPOnly: true,
		Secure:   a.Cookie.Secure,
		SameSite: "Lax",
	})
	ctx.Locals(viewIDLocal, id)
	ctx.Locals(viewKnownLocal, false)
	return id
}

// loginView is the data behind the credential screen
type loginView struct {
	mode       string
	state      State
	record     router.ViewContext
	message    string
	validation map[string]string
	notice     string
}

func (a *AuthController) renderLogin(ctx router.Context, v loginView) error {
	if v.record == nil {
		v.record = router.ViewContext{}
	}

	data := router.ViewContext{
		"mode":            v.mode,
		"is_signup":       v.mode == LoginModeSignup,
		"loading":         v.state.Loading,
		"record":          v.record,
		"error_message":   v.message,
		"notice":          v.notice,
		"login_action":    a.Routes.Login,
		"register_action": a.Routes.Register,
		"login_tab":       a.Routes.Login + "?mode=" + LoginModeLogin,
		"signup_tab":      a.Routes.Login + "?mode=" + LoginModeSignup,
		"csrf_token":      csrf.Token(ctx),
		"csrf_field":      csrf.FieldName(ctx),
	}

	if len(v.validation) > 0 {
		data["validation"] = v.validation
	}

	return ctx.Render(a.Views.Login, data, a.Views.Layout)
}

func (a *AuthController) renderError(ctx router.Context, err error) error {
	a.Logger.Error("portal request failed", "path", ctx.Path(), "error", err)
	return a.renderErrorStatus(ctx, fiber.StatusInternalServerError, UserMessage(err))
}

func (a *AuthController) renderErrorStatus(ctx router.Context, status int, message string) error {
	return ctx.Status(status).Render(a.Views.Error, router.ViewContext{
		"message": message,
		"status":  status,
		"back":    a.Routes.Login,
	}, a.Views.Layout)
}

func (a *AuthController) csrfFailed(ctx router.Context, err error) error {
	a.Logger.Warn("form token rejected", "path", ctx.Path(), "error", err)
	return a.renderErrorStatus(ctx, fiber.StatusForbidden, "O formulário expirou. Volte e tente novamente.")
}

func (a *AuthController) limitExceeded(ctx router.Context, err error) error {
	a.Logger.Warn("submission throttled", "path", ctx.Path(), "ip", ctx.IP())
	return a.renderErrorStatus(ctx, fiber.StatusTooManyRequests, UserMessage(err))
}

// FiberErrorHandler renders the portal error page for errors that escape
// the routes. Unknown paths and methods go back to the root.
func (a *AuthController) FiberErrorHandler(c *fiber.Ctx, err error) error {
	status, message := fiber.StatusInternalServerError, UserMessage(err)

	var fe *fiber.Error
	if errors.As(err, &fe) {
		if fe.Code == fiber.StatusNotFound || fe.Code == fiber.StatusMethodNotAllowed {
			return c.Redirect(a.Routes.Root, fiber.StatusSeeOther)
		}
		status, message = fe.Code, fe.Message
	} else {
		status = statusFor(err)
	}

	if status >= fiber.StatusInternalServerError {
		a.Logger.Error("portal request failed", "path", c.Path(), "error", err)
	}

	return c.Status(status).Render(a.Views.Error, fiber.Map{
		"message": message,
		"status":  status,
		"back":    a.Routes.Login,
	}, a.Views.Layout)
}

func loginModeFrom(mode string) string {
	if mode == LoginModeSignup {
		return LoginModeSignup
	}
	return LoginModeLogin
}

func userEmail(state State) string {
	if state.Profile != nil && state.Profile.Email != "" {
		return state.Profile.Email
	}
	if state.User != nil {
		return state.User.Email
	}
	return ""
}

func statusFor(err error) int {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return fiber.StatusInternalServerError
	}
	switch {
	case richErr.TextCode == TextCodeAuthRejected:
		return fiber.StatusUnauthorized
	case richErr.Category == errors.CategoryValidation, richErr.Category == errors.CategoryBadInput:
		return fiber.StatusBadRequest
	case richErr.Code >= 400 && richErr.Code < 600:
		return richErr.Code
	default:
		return fiber.StatusInternalServerError
	}
}
