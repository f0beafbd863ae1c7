package service

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gitlab.com/dirk.krummacker/contacts-ui/internal/backend"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/contacts"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/logging"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/model"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/session"
)

//go:embed templates/*.html
var templates embed.FS

// Service is the web UI. It owns no data of its own: everything it shows is fetched from the
// backend with the bearer token of the requesting session.
type Service struct {
	backend  backend.Backend
	sessions *session.Store
	logger   *zap.Logger
}

// page is the data the index template renders.
type page struct {
	Flashes   []session.Flash
	Identity  *model.Identity
	Tab       string
	Contacts  []model.Contact
	ListError string
}

// New creates the web UI on top of the backend.
func New(b backend.Backend, sessions *session.Store, logger *zap.Logger) *Service {
	return &Service{backend: b, sessions: sessions, logger: logger}
}

// SetupHttpRouter initializes the router and registers all endpoints. With accessLog set, every
// request is logged.
func (s *Service) SetupHttpRouter(accessLog bool) *gin.Engine {
	router := gin.New()
	router.SetHTMLTemplate(template.Must(template.New("").Funcs(template.FuncMap{
		"value":     model.Value,
		"timestamp": formatTimestamp,
	}).ParseFS(templates, "templates/*.html")))

	router.Use(logging.Middleware(s.logger, accessLog), logging.Recovery())
	router.GET("/healthz", healthz)

	ui := router.Group("/", s.sessions.Middleware())
	ui.GET("/", s.index)
	ui.POST("/login", s.login)
	ui.POST("/signup", s.signup)
	ui.POST("/logout", s.logout)

	protected := ui.Group("/contacts", requireLogin)
	protected.POST("", s.createContact)
	protected.POST("/:id", s.updateContactByID)
	protected.POST("/:id/delete", s.deleteContactByID)
	return router
}

// healthz answers liveness probes.
//
//	> curl http://localhost:8080/healthz
func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requireLogin stops requests from sessions that are not signed in. Nothing is sent to the backend
// for them.
func requireLogin(c *gin.Context) {
	sess := session.From(c)
	if !sess.Authenticated() {
		sess.AddFlash(session.Warning, "Please log in first.")
		c.Redirect(http.StatusSeeOther, "/")
		c.Abort()
		return
	}
	c.Next()
}

// index renders the login and sign-up forms for anonymous sessions, and the contact list for
// signed-in ones. The list is fetched fresh on every call.
func (s *Service) index(c *gin.Context) {
	sess := session.From(c)
	p := page{Flashes: sess.Flashes(), Tab: c.Query("tab")}

	identity, ok := sess.Identity()
	if ok {
		p.Identity = &identity
		list, err := s.repository(sess).List(c.Request.Context(), identity.ID)
		if err != nil {
			logging.FromContext(c).Warn("listing contacts failed", zap.Error(err))
			p.ListError = "Read error: " + err.Error()
		}
		p.Contacts = list
	}
	c.HTML(http.StatusOK, "index.html", p)
}

// login signs the session in with the submitted e-mail and password. On failure the session stays
// anonymous.
func (s *Service) login(c *gin.Context) {
	sess := session.From(c)
	creds, err := s.backend.SignIn(c.Request.Context(), c.PostForm("email"), c.PostForm("password"))
	if err != nil {
		logging.FromContext(c).Info("login failed", zap.Error(err))
		sess.AddFlash(session.Error, "Login failed: "+err.Error())
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	s.signIn(c, sess, creds)
	session.From(c).AddFlash(session.Success, "Logged in.")
	c.Redirect(http.StatusSeeOther, "/")
}

// signup registers a new account. If the backend signs the new user in right away, so does the
// session; otherwise the user has to confirm the e-mail address first.
func (s *Service) signup(c *gin.Context) {
	sess := session.From(c)
	_, creds, err := s.backend.SignUp(c.Request.Context(), c.PostForm("email"), c.PostForm("password"))
	if err != nil {
		logging.FromContext(c).Info("sign-up failed", zap.Error(err))
		sess.AddFlash(session.Error, "Sign-up failed: "+err.Error())
		c.Redirect(http.StatusSeeOther, "/?tab=signup")
		return
	}
	if creds == nil {
		sess.AddFlash(session.Success, "Account created. Check your inbox if e-mail confirmation is enabled.")
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	s.signIn(c, sess, creds)
	session.From(c).AddFlash(session.Success, "Account created. You are logged in.")
	c.Redirect(http.StatusSeeOther, "/")
}

// signIn moves the session to a fresh id, stores the credentials, and makes sure the profile row
// exists.
func (s *Service) signIn(c *gin.Context, sess *session.Session, creds *model.Credentials) {
	sess = s.sessions.Renew(c, sess)
	sess.SetIdentity(creds.Identity, creds.AccessToken)
	logger := logging.FromContext(c)
	logger.Info("user logged in", zap.String("user_id", creds.Identity.ID))
	contacts.EnsureProfile(c.Request.Context(), s.backend.Client(creds.AccessToken), creds.Identity, logger)
}

// logout drops the session and everything in it.
func (s *Service) logout(c *gin.Context) {
	sess := s.sessions.Destroy(c, session.From(c))
	sess.AddFlash(session.Info, "Logged out.")
	c.Redirect(http.StatusSeeOther, "/")
}

// createContact inserts the contact from the submitted form for the signed-in user.
func (s *Service) createContact(c *gin.Context) {
	sess := session.From(c)
	identity, _ := sess.Identity()
	fields := contactFields(c)
	_, err := s.repository(sess).Insert(c.Request.Context(), identity.ID, fields)
	s.report(c, sess, err, "Contact added.", "Insert error: ")
}

// updateContactByID replaces all fields of the contact whose id matches the id parameter of the
// request URL. Fields left blank are cleared.
func (s *Service) updateContactByID(c *gin.Context) {
	sess := session.From(c)
	err := s.repository(sess).Update(c.Request.Context(), c.Param("id"), contactFields(c))
	s.report(c, sess, err, "Contact updated.", "Update error: ")
}

// deleteContactByID deletes the contact whose id matches the id parameter of the request URL.
// Deleting a contact that is already gone is reported as success.
func (s *Service) deleteContactByID(c *gin.Context) {
	sess := session.From(c)
	err := s.repository(sess).Delete(c.Request.Context(), c.Param("id"))
	s.report(c, sess, err, "Contact deleted.", "Delete error: ")
}

// report queues the outcome of a contact operation and redirects back to the list.
func (s *Service) report(c *gin.Context, sess *session.Session, err error, success, failurePrefix string) {
	switch {
	case errors.Is(err, model.ErrFullNameRequired):
		sess.AddFlash(session.Warning, "The name is required.")
	case err != nil:
		logging.FromContext(c).Warn("contact operation failed", zap.String("path", c.FullPath()), zap.Error(err))
		sess.AddFlash(session.Error, failurePrefix+err.Error())
	default:
		sess.AddFlash(session.Success, success)
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// repository returns the contact operations with the session's bearer token.
func (s *Service) repository(sess *session.Session) *contacts.Repository {
	return contacts.NewRepository(s.backend.Client(sess.Token()))
}

func contactFields(c *gin.Context) model.ContactFields {
	return model.NewContactFields(c.PostForm("full_name"), c.PostForm("phone"), c.PostForm("email"), c.PostForm("notes"))
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
