package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/ecid-covid-it-support/tracking-api/authentication"
	"github.com/ecid-covid-it-support/tracking-api/authorization"
	"github.com/ecid-covid-it-support/tracking-api/groups"
	"github.com/ecid-covid-it-support/tracking-api/institutions"
	"github.com/ecid-covid-it-support/tracking-api/roles"
	. "github.com/ecid-covid-it-support/tracking-api/shared"
	. "github.com/ecid-covid-it-support/tracking-api/store"
	"github.com/ecid-covid-it-support/tracking-api/store/migrations"
	"github.com/ecid-covid-it-support/tracking-api/tracking"
	"github.com/ecid-covid-it-support/tracking-api/users"

	"github.com/facebookgo/inject"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	"github.com/pkg/errors"
)

var (
	ctx             = context.Background()
	logger          = NewLogger("tracking-api")
	config          *AppConfig
	db              *gorm.DB
	stringGenerator = &StringGenerator{}

	institutionService = &institutions.InstitutionService{}
	userService        = &users.UserService{}
	groupService       = &groups.GroupService{}
	trackingService    = &tracking.TrackingService{}

	institutionHandlerFactory = &institutions.HandlerFactory{}
	userHandlerFactory        = &users.HandlerFactory{}
	groupHandlerFactory       = &groups.HandlerFactory{}
	trackingHandlerFactory    = &tracking.HandlerFactory{}

	dbStore       = &Store{}
	engine        = &authorization.Engine{}
	authenticator = &authentication.Authenticator{}
)

func init() {
	checkErrAndExit(initAppConfiguration())
	checkErrAndExit(initPostgresConnection())
	checkErrAndExit(initApplicationGraph())
}

func initAppConfiguration() (err error) {
	config, err = InitAppConfiguration()
	return
}

func initPostgresConnection() (err error) {
	connectString := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		config.PgContactPoint,
		config.PgContactPort,
		config.PgUsername,
		config.PgPassword,
		config.PgDbName)
	db, err = gorm.Open("postgres", connectString)
	if err != nil {
		return
	}

	db.LogMode(true)
	db.SetLogger(logger)
	return
}

func initApplicationGraph() error {
	g := inject.Graph{}
	g.Provide(
		&inject.Object{Value: config},
		&inject.Object{Value: institutionService},
		&inject.Object{Value: userService},
		&inject.Object{Value: groupService},
		&inject.Object{Value: trackingService},
		&inject.Object{Value: institutionHandlerFactory},
		&inject.Object{Value: userHandlerFactory},
		&inject.Object{Value: groupHandlerFactory},
		&inject.Object{Value: trackingHandlerFactory},
		&inject.Object{Value: db},
		&inject.Object{Value: stringGenerator},
		&inject.Object{Value: dbStore},
		&inject.Object{Value: engine},
		&inject.Object{Value: authenticator},
		&inject.Object{Value: logger},
	)
	if err := g.Populate(); err != nil {
		return errors.Wrap(err, "failed to populate")
	}
	return nil
}

func main() {
	if config.StartupMigration {
		applySqlSchemaMigrations(ctx)
	}
	startHttpServer(ctx)
}

func applySqlSchemaMigrations(ctx context.Context) {
	logger.Info(ctx, "applying sql schema migrations")
	migrationResult := migrations.Up(migrations.ApplyOptions{
		SourceURL: fmt.Sprintf("file://%s", config.SqlMigrationsSourceDir),
		DatabaseURL: fmt.Sprintf("postgres://%v:%v/%v?sslmode=disable&user=%s&password=%s",
			config.PgContactPoint, config.PgContactPort, config.PgDbName, config.PgUsername, config.PgPassword),
	})
	checkErrAndExit(migrationResult.Err)
	if !migrationResult.Changes {
		logger.Info(ctx, "no new migrations applied")
	}
}

func startHttpServer(ctx context.Context) {
	institutionOpts := []kithttp.ServerOption{
		kithttp.ServerErrorLogger(logger),
		kithttp.ServerErrorEncoder(institutions.EncodeError),
	}

	userOpts := []kithttp.ServerOption{
		kithttp.ServerErrorLogger(logger),
		kithttp.ServerErrorEncoder(users.EncodeError),
	}

	groupOpts := []kithttp.ServerOption{
		kithttp.ServerErrorLogger(logger),
		kithttp.ServerErrorEncoder(groups.EncodeError),
	}

	trackingOpts := []kithttp.ServerOption{
		kithttp.ServerErrorLogger(logger),
		kithttp.ServerErrorEncoder(tracking.EncodeError),
	}

	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	router.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if db != nil && db.DB().Ping() == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}).Methods(http.MethodGet)

	apiRouterV1 := router.PathPrefix("/v1").Subrouter()

	apiRouterV1.Handle("/institutions", institutionHandlerFactory.Add(institutionOpts)).Methods(http.MethodPost)
	apiRouterV1.Handle("/institutions", institutionHandlerFactory.List(institutionOpts)).Methods(http.MethodGet)
	apiRouterV1.Handle("/institutions/{institutionId}", institutionHandlerFactory.Get(institutionOpts)).Methods(http.MethodGet)
	apiRouterV1.Handle("/institutions/{institutionId}", institutionHandlerFactory.Update(institutionOpts)).Methods(http.MethodPatch)
	apiRouterV1.Handle("/institutions/{institutionId}", institutionHandlerFactory.Delete(institutionOpts)).Methods(http.MethodDelete)

	userCollections := []struct {
		path string
		role string
	}{
		{"children", roles.ROLE_CHILD},
		{"families", roles.ROLE_FAMILY},
		{"educators", roles.ROLE_EDUCATOR},
		{"healthprofessionals", roles.ROLE_HEALTH_PROFESSIONAL},
	}
	for _, collection := range userCollections {
		apiRouterV1.Handle("/users/"+collection.path, userHandlerFactory.Create(collection.role, userOpts)).Methods(http.MethodPost)
		apiRouterV1.Handle("/users/"+collection.path, userHandlerFactory.List(collection.role, userOpts)).Methods(http.MethodGet)
		apiRouterV1.Handle("/users/"+collection.path+"/{userId}", userHandlerFactory.Get(collection.role, userOpts)).Methods(http.MethodGet)
		apiRouterV1.Handle("/users/"+collection.path+"/{userId}", userHandlerFactory.Update(collection.role, userOpts)).Methods(http.MethodPatch)
		apiRouterV1.Handle("/users/"+collection.path+"/{userId}", userHandlerFactory.Delete(collection.role, userOpts)).Methods(http.MethodDelete)
	}

	groupOwners := []struct {
		path string
		role string
	}{
		{"educators", roles.ROLE_EDUCATOR},
		{"healthprofessionals", roles.ROLE_HEALTH_PROFESSIONAL},
	}
	for _, owner := range groupOwners {
		prefix := "/users/" + owner.path + "/{ownerId}/children/groups"
		apiRouterV1.Handle(prefix, groupHandlerFactory.Add(owner.role, groupOpts)).Methods(http.MethodPost)
		apiRouterV1.Handle(prefix, groupHandlerFactory.List(owner.role, groupOpts)).Methods(http.MethodGet)
		apiRouterV1.Handle(prefix+"/{groupId}", groupHandlerFactory.Get(owner.role, groupOpts)).Methods(http.MethodGet)
		apiRouterV1.Handle(prefix+"/{groupId}", groupHandlerFactory.Update(owner.role, groupOpts)).Methods(http.MethodPatch)
		apiRouterV1.Handle(prefix+"/{groupId}", groupHandlerFactory.Delete(owner.role, groupOpts)).Methods(http.MethodDelete)
	}

	apiRouterV1.Handle("/children/{childId}/bodyfats", trackingHandlerFactory.AddBodyFat(trackingOpts)).Methods(http.MethodPost)
	apiRouterV1.Handle("/children/{childId}/bodyfats", trackingHandlerFactory.ListBodyFats(trackingOpts)).Methods(http.MethodGet)
	apiRouterV1.Handle("/children/{childId}/bodyfats", trackingHandlerFactory.DeleteBodyFats(trackingOpts)).Methods(http.MethodDelete)
	apiRouterV1.Handle("/children/{childId}/sleeps", trackingHandlerFactory.AddSleep(trackingOpts)).Methods(http.MethodPost)
	apiRouterV1.Handle("/children/{childId}/sleeps", trackingHandlerFactory.ListSleeps(trackingOpts)).Methods(http.MethodGet)
	apiRouterV1.Handle("/children/{childId}/sleeps", trackingHandlerFactory.DeleteSleeps(trackingOpts)).Methods(http.MethodDelete)
	apiRouterV1.Handle("/children/{childId}/physicalactivities", trackingHandlerFactory.AddPhysicalActivity(trackingOpts)).Methods(http.MethodPost)
	apiRouterV1.Handle("/children/{childId}/physicalactivities", trackingHandlerFactory.ListPhysicalActivities(trackingOpts)).Methods(http.MethodGet)
	apiRouterV1.Handle("/children/{childId}/physicalactivities", trackingHandlerFactory.DeletePhysicalActivities(trackingOpts)).Methods(http.MethodDelete)

	apiRouterV1.Handle("/institutions/{institutionId}/environments", trackingHandlerFactory.AddEnvironment(trackingOpts)).Methods(http.MethodPost)
	apiRouterV1.Handle("/institutions/{institutionId}/environments", trackingHandlerFactory.ListEnvironments(trackingOpts)).Methods(http.MethodGet)

	checkErrAndExit(http.ListenAndServe(config.ListenAddr,
		logger.RequestLoggerMiddleware(
			authenticator.Middleware(router, []string{"/healthz", "/readyz"}),
		),
	))
}

func checkErrAndExit(err error) {
	if err == nil {
		return
	}
	fmt.Println(err.Error())
	os.Exit(1)
}
