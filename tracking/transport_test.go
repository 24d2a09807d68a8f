package tracking_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/ecid-covid-it-support/tracking-api/authorization"
	"github.com/ecid-covid-it-support/tracking-api/claims"
	"github.com/ecid-covid-it-support/tracking-api/roles"
	"github.com/ecid-covid-it-support/tracking-api/shared"
	. "github.com/ecid-covid-it-support/tracking-api/shared/mocks"
	"github.com/ecid-covid-it-support/tracking-api/store"
	. "github.com/ecid-covid-it-support/tracking-api/tracking"
	"github.com/ecid-covid-it-support/tracking-api/validation"

	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"github.com/jinzhu/gorm"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Transport", func() {

	var (
		router   *mux.Router
		recorder *httptest.ResponseRecorder

		concreteStore       *store.Store
		concreteDb          *gorm.DB
		mockStringGenerator *MockStringGenerator

		actorId, actorRole, actorInstitution              string
		reqToUse                                          *http.Request
		httpMethodToUse, httpEndpointToUse, httpBodyToUse string
	)

	var (
		assertHttpCode = func(code int) {
			It(fmt.Sprintf("should respond with status code %d", code), func() {
				Expect(recorder.Code).To(Equal(code))
			})
		}

		assertJsonResponse = func(response string) {
			It("should respond with the expected json", func() {
				Expect(recorder.Body.String()).To(MatchJSON(response))
			})
		}
	)

	BeforeEach(func() {
		concreteDb = shared.NewTestDbInstance(false)

		mockStringGenerator = &MockStringGenerator{}
		mockStringGenerator.On("GenerateObjectId").Return("9999999999999999999999aa")

		concreteStore = &store.Store{
			Db:              concreteDb,
			StringGenerator: mockStringGenerator,
		}
		if err := concreteStore.EnsureSchema(); err != nil {
			panic(err)
		}

		logger := shared.NewLogger("tracking-api")
		engine := &authorization.Engine{Resolver: concreteStore}
		trackingService := &TrackingService{
			Store:  concreteStore,
			Engine: engine,
			Logger: logger,
		}

		router = mux.NewRouter()
		opts := []kithttp.ServerOption{
			kithttp.ServerErrorLogger(logger),
			kithttp.ServerErrorEncoder(EncodeError),
		}

		handlerFactory := HandlerFactory{
			Service: trackingService,
		}

		router.Handle("/v1/children/{childId}/bodyfats", handlerFactory.AddBodyFat(opts)).Methods(http.MethodPost)
		router.Handle("/v1/children/{childId}/bodyfats", handlerFactory.ListBodyFats(opts)).Methods(http.MethodGet)
		router.Handle("/v1/children/{childId}/bodyfats", handlerFactory.DeleteBodyFats(opts)).Methods(http.MethodDelete)
		router.Handle("/v1/children/{childId}/sleeps", handlerFactory.AddSleep(opts)).Methods(http.MethodPost)
		router.Handle("/v1/children/{childId}/sleeps", handlerFactory.ListSleeps(opts)).Methods(http.MethodGet)
		router.Handle("/v1/children/{childId}/sleeps", handlerFactory.DeleteSleeps(opts)).Methods(http.MethodDelete)
		router.Handle("/v1/children/{childId}/physicalactivities", handlerFactory.AddPhysicalActivity(opts)).Methods(http.MethodPost)
		router.Handle("/v1/children/{childId}/physicalactivities", handlerFactory.ListPhysicalActivities(opts)).Methods(http.MethodGet)
		router.Handle("/v1/children/{childId}/physicalactivities", handlerFactory.DeletePhysicalActivities(opts)).Methods(http.MethodDelete)
		router.Handle("/v1/institutions/{institutionId}/environments", handlerFactory.AddEnvironment(opts)).Methods(http.MethodPost)
		router.Handle("/v1/institutions/{institutionId}/environments", handlerFactory.ListEnvironments(opts)).Methods(http.MethodGet)

		recorder = httptest.NewRecorder()

		concreteDb.Exec(`INSERT INTO "institutions" ("institution_id","type","name") VALUES ('aaaaaaaaaaaaaaaaaaaaaa01','Institute of Education','Alfa School')`)
		concreteDb.Exec(`INSERT INTO "institutions" ("institution_id","type","name") VALUES ('aaaaaaaaaaaaaaaaaaaaaa02','Institute of Education','Beta University')`)
		concreteDb.Exec(`INSERT INTO "users" ("user_id","username","role","institution_id") VALUES ('bbbbbbbbbbbbbbbbbbbbbb01','admin','admin','aaaaaaaaaaaaaaaaaaaaaa01')`)
		concreteDb.Exec(`INSERT INTO "users" ("user_id","username","role","institution_id") VALUES ('cccccccccccccccccccccc01','maria','child','aaaaaaaaaaaaaaaaaaaaaa01')`)
		concreteDb.Exec(`INSERT INTO "users" ("user_id","username","role","institution_id") VALUES ('cccccccccccccccccccccc02','joao','child','aaaaaaaaaaaaaaaaaaaaaa01')`)
		concreteDb.Exec(`INSERT INTO "users" ("user_id","username","role","institution_id") VALUES ('dddddddddddddddddddddd01','jose','educator','aaaaaaaaaaaaaaaaaaaaaa01')`)
		concreteDb.Exec(`INSERT INTO "users" ("user_id","username","role","institution_id") VALUES ('ffffffffffffffffffffff01','silva','family','aaaaaaaaaaaaaaaaaaaaaa01')`)
		concreteDb.Exec(`INSERT INTO "family_children" ("family_id","child_id") VALUES ('ffffffffffffffffffffff01','cccccccccccccccccccccc01')`)
		concreteDb.Exec(`INSERT INTO "children_groups" ("group_id","owner_id","name") VALUES ('1111111111111111111111ab','dddddddddddddddddddddd01','Turma A')`)
		concreteDb.Exec(`INSERT INTO "group_children" ("group_id","child_id") VALUES ('1111111111111111111111ab','cccccccccccccccccccccc01')`)
		concreteDb.Exec(`INSERT INTO "body_fats" ("body_fat_id","child_id","timestamp","value","unit") VALUES ('5555555555555555555555aa','cccccccccccccccccccccc01','2019-05-10 10:00:00+00:00',21.5,'%')`)

		actorId = ""
		actorRole = ""
		actorInstitution = ""
		httpMethodToUse = ""
		httpEndpointToUse = ""
		httpBodyToUse = ""
	})

	AfterEach(func() {
		concreteDb.Close()
	})

	JustBeforeEach(func() {
		reqToUse, _ = http.NewRequest(httpMethodToUse, httpEndpointToUse, strings.NewReader(httpBodyToUse))
		reqToUse = reqToUse.WithContext(claims.NewContext(context.Background(), actorId, actorRole, actorInstitution))
		router.ServeHTTP(recorder, reqToUse)
	})

	Describe("POST /children/{childId}/bodyfats", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodPost
			httpEndpointToUse = "/v1/children/cccccccccccccccccccccc01/bodyfats"
			httpBodyToUse = `{"timestamp":"2019-06-01T08:00:00Z","value":20.1}`
		})

		Context("When the child records its own measurement", func() {
			BeforeEach(func() {
				actorId, actorRole = "cccccccccccccccccccccc01", roles.ROLE_CHILD
			})
			assertHttpCode(http.StatusCreated)
			assertJsonResponse(`{
				"id": "9999999999999999999999aa",
				"child_id": "cccccccccccccccccccccc01",
				"timestamp": "2019-06-01T08:00:00Z",
				"value": 20.1,
				"unit": "%"
			}`)
		})

		Context("When an application posts for any child", func() {
			BeforeEach(func() {
				actorId, actorRole = "abababababababababababab", roles.ROLE_APPLICATION
			})
			assertHttpCode(http.StatusCreated)
		})

		Context("When a child posts for another child", func() {
			BeforeEach(func() {
				actorId, actorRole = "cccccccccccccccccccccc02", roles.ROLE_CHILD
			})
			assertHttpCode(http.StatusForbidden)
		})

		Context("When an educator with a group link tries to post", func() {
			BeforeEach(func() {
				actorId, actorRole = "dddddddddddddddddddddd01", roles.ROLE_EDUCATOR
			})
			assertHttpCode(http.StatusForbidden)
		})

		Context("When the child is not registered", func() {
			BeforeEach(func() {
				actorId, actorRole = "abababababababababababab", roles.ROLE_APPLICATION
				httpEndpointToUse = "/v1/children/cccccccccccccccccccccc77/bodyfats"
			})
			assertHttpCode(http.StatusBadRequest)
			assertJsonResponse(`{"message":"It is necessary that children be registered before proceeding.","description":"The following IDs were verified without registration: cccccccccccccccccccccc77"}`)
		})

		Context("When the timestamp is missing", func() {
			BeforeEach(func() {
				actorId, actorRole = "cccccccccccccccccccccc01", roles.ROLE_CHILD
				httpBodyToUse = `{"value":20.1}`
			})
			assertHttpCode(http.StatusBadRequest)
			assertJsonResponse(`{"message":"Required fields were not provided!","description":"timestamp are required!"}`)
		})

		Context("When the timestamp is not a date", func() {
			BeforeEach(func() {
				actorId, actorRole = "cccccccccccccccccccccc01", roles.ROLE_CHILD
				httpBodyToUse = `{"timestamp":"yesterday-ish","value":20.1}`
			})
			assertHttpCode(http.StatusBadRequest)

			It("should name the offending value", func() {
				Expect(recorder.Body.String()).To(ContainSubstring("yesterday-ish"))
			})
		})
	})

	Describe("GET /children/{childId}/bodyfats", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodGet
			httpEndpointToUse = "/v1/children/cccccccccccccccccccccc01/bodyfats"
		})

		Context("When the child reads its own collection", func() {
			BeforeEach(func() {
				actorId, actorRole = "cccccccccccccccccccccc01", roles.ROLE_CHILD
			})
			assertHttpCode(http.StatusOK)
			assertJsonResponse(`[{
				"id": "5555555555555555555555aa",
				"child_id": "cccccccccccccccccccccc01",
				"timestamp": "2019-05-10T10:00:00Z",
				"value": 21.5,
				"unit": "%"
			}]`)
		})

		Context("When the linked family reads", func() {
			BeforeEach(func() {
				actorId, actorRole = "ffffffffffffffffffffff01", roles.ROLE_FAMILY
			})
			assertHttpCode(http.StatusOK)
		})

		Context("When an educator with a group link reads", func() {
			BeforeEach(func() {
				actorId, actorRole = "dddddddddddddddddddddd01", roles.ROLE_EDUCATOR
			})
			assertHttpCode(http.StatusOK)
		})

		Context("When the group link was removed", func() {
			BeforeEach(func() {
				actorId, actorRole = "dddddddddddddddddddddd01", roles.ROLE_EDUCATOR
				concreteDb.Exec(`DELETE FROM "group_children" WHERE "child_id" = 'cccccccccccccccccccccc01'`)
			})
			assertHttpCode(http.StatusForbidden)
		})

		Context("When the family reads an unlinked child", func() {
			BeforeEach(func() {
				actorId, actorRole = "ffffffffffffffffffffff01", roles.ROLE_FAMILY
				httpEndpointToUse = "/v1/children/cccccccccccccccccccccc02/bodyfats"
			})
			assertHttpCode(http.StatusForbidden)
		})

		Context("When an admin reads a child with no records", func() {
			BeforeEach(func() {
				actorId, actorRole = "bbbbbbbbbbbbbbbbbbbbbb01", roles.ROLE_ADMIN
				httpEndpointToUse = "/v1/children/cccccccccccccccccccccc02/bodyfats"
			})
			assertHttpCode(http.StatusOK)
			assertJsonResponse(`[]`)
		})

		Context("When an admin reads a collection whose child was removed", func() {
			BeforeEach(func() {
				actorId, actorRole = "bbbbbbbbbbbbbbbbbbbbbb01", roles.ROLE_ADMIN
				concreteDb.Exec(`DELETE FROM "users" WHERE "user_id" = 'cccccccccccccccccccccc01'`)
			})
			assertHttpCode(http.StatusOK)
		})

		Context("When the child id is malformed", func() {
			BeforeEach(func() {
				actorId, actorRole = "bbbbbbbbbbbbbbbbbbbbbb01", roles.ROLE_ADMIN
				httpEndpointToUse = "/v1/children/not-an-id/bodyfats"
			})
			assertHttpCode(http.StatusBadRequest)
			assertJsonResponse(`{"message":"Some ID provided does not have a valid format!","description":"A 24-byte hex ID similar to this: 507f191e810c19729de860ea is expected."}`)
		})
	})

	Describe("DELETE /children/{childId}/bodyfats", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodDelete
			httpEndpointToUse = "/v1/children/cccccccccccccccccccccc01/bodyfats"
		})

		Context("When the child clears its own collection", func() {
			BeforeEach(func() {
				actorId, actorRole = "cccccccccccccccccccccc01", roles.ROLE_CHILD
			})
			assertHttpCode(http.StatusNoContent)

			It("should leave nothing behind", func() {
				records, err := concreteStore.ListBodyFats(nil, "cccccccccccccccccccccc01", validation.QueryOptions{Page: 1, Limit: validation.DefaultLimit})
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(BeEmpty())
			})
		})

		Context("When an admin clears a removed child's collection", func() {
			BeforeEach(func() {
				actorId, actorRole = "bbbbbbbbbbbbbbbbbbbbbb01", roles.ROLE_ADMIN
				concreteDb.Exec(`DELETE FROM "users" WHERE "user_id" = 'cccccccccccccccccccccc01'`)
			})
			assertHttpCode(http.StatusNoContent)
		})

		Context("When there is nothing to delete", func() {
			BeforeEach(func() {
				actorId, actorRole = "bbbbbbbbbbbbbbbbbbbbbb01", roles.ROLE_ADMIN
				httpEndpointToUse = "/v1/children/cccccccccccccccccccccc02/bodyfats"
			})
			assertHttpCode(http.StatusNoContent)
		})

		Context("When the linked family tries to delete", func() {
			BeforeEach(func() {
				actorId, actorRole = "ffffffffffffffffffffff01", roles.ROLE_FAMILY
			})
			assertHttpCode(http.StatusForbidden)
		})
	})

	Describe("POST /children/{childId}/sleeps", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodPost
			httpEndpointToUse = "/v1/children/cccccccccccccccccccccc01/sleeps"
			actorId, actorRole = "cccccccccccccccccccccc01", roles.ROLE_CHILD
		})

		Context("When the duration is omitted", func() {
			BeforeEach(func() {
				httpBodyToUse = `{"start_time":"2019-06-01T20:00:00Z","end_time":"2019-06-02T06:30:00Z","type":"classic"}`
			})
			assertHttpCode(http.StatusCreated)

			It("should derive it from the interval", func() {
				response := SleepTransport{}
				Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(Succeed())
				// 10h30m in milliseconds
				Expect(*response.Duration).To(Equal(int64(37800000)))
			})
		})

		Context("When the duration is provided", func() {
			BeforeEach(func() {
				httpBodyToUse = `{"start_time":"2019-06-01T20:00:00Z","end_time":"2019-06-02T06:30:00Z","duration":1000}`
			})
			assertHttpCode(http.StatusCreated)

			It("should keep the provided value", func() {
				response := SleepTransport{}
				Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(Succeed())
				Expect(*response.Duration).To(Equal(int64(1000)))
			})
		})

		Context("When the interval is incomplete", func() {
			BeforeEach(func() {
				httpBodyToUse = `{"start_time":"2019-06-01T20:00:00Z"}`
			})
			assertHttpCode(http.StatusBadRequest)
			assertJsonResponse(`{"message":"Required fields were not provided!","description":"start_time, end_time are required!"}`)
		})
	})

	Describe("POST /children/{childId}/physicalactivities", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodPost
			httpEndpointToUse = "/v1/children/cccccccccccccccccccccc01/physicalactivities"
			actorId, actorRole = "cccccccccccccccccccccc01", roles.ROLE_CHILD
		})

		Context("When the activity is complete", func() {
			BeforeEach(func() {
				httpBodyToUse = `{"name":"run","start_time":"2019-06-01T09:00:00Z","end_time":"2019-06-01T09:30:00Z","calories":300,"steps":4000,"distance":3.2}`
			})
			assertHttpCode(http.StatusCreated)

			It("should echo the record with the derived duration", func() {
				response := ActivityTransport{}
				Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(Succeed())
				Expect(*response.Name).To(Equal("run"))
				Expect(*response.Duration).To(Equal(int64(1800000)))
				Expect(*response.Steps).To(Equal(int64(4000)))
			})
		})

		Context("When the name is missing", func() {
			BeforeEach(func() {
				httpBodyToUse = `{"start_time":"2019-06-01T09:00:00Z","end_time":"2019-06-01T09:30:00Z"}`
			})
			assertHttpCode(http.StatusBadRequest)
			assertJsonResponse(`{"message":"Required fields were not provided!","description":"name are required!"}`)
		})
	})

	Describe("POST /institutions/{institutionId}/environments", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodPost
			httpEndpointToUse = "/v1/institutions/aaaaaaaaaaaaaaaaaaaaaa01/environments"
			httpBodyToUse = `{"timestamp":"2019-06-01T12:00:00Z","climatized":true,"temperature":24.5,"humidity":51.0,"room":"Room 01"}`
		})

		Context("When an application reports a measurement", func() {
			BeforeEach(func() {
				actorId, actorRole = "abababababababababababab", roles.ROLE_APPLICATION
			})
			assertHttpCode(http.StatusCreated)

			It("should echo the measurement", func() {
				response := EnvironmentTransport{}
				Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(Succeed())
				Expect(*response.Id).To(Equal("9999999999999999999999aa"))
				Expect(*response.Climatized).To(BeTrue())
				Expect(*response.Temperature).To(Equal(24.5))
			})
		})

		Context("When the institution is not registered", func() {
			BeforeEach(func() {
				actorId, actorRole = "abababababababababababab", roles.ROLE_APPLICATION
				httpEndpointToUse = "/v1/institutions/aaaaaaaaaaaaaaaaaaaaaa77/environments"
			})
			assertHttpCode(http.StatusBadRequest)
			assertJsonResponse(`{"message":"The institution provided does not have a registration.","description":"It is necessary that the institution be registered before proceeding."}`)
		})

		Context("When an educator tries to report", func() {
			BeforeEach(func() {
				actorId, actorRole, actorInstitution = "dddddddddddddddddddddd01", roles.ROLE_EDUCATOR, "aaaaaaaaaaaaaaaaaaaaaa01"
			})
			assertHttpCode(http.StatusForbidden)
		})
	})

	Describe("GET /institutions/{institutionId}/environments", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodGet
			httpEndpointToUse = "/v1/institutions/aaaaaaaaaaaaaaaaaaaaaa01/environments"
			concreteDb.Exec(`INSERT INTO "environments" ("environment_id","institution_id","timestamp","temperature","humidity") VALUES ('6666666666666666666666aa','aaaaaaaaaaaaaaaaaaaaaa01','2019-06-01 12:00:00+00:00',23.0,48.5)`)
		})

		Context("When a family of the institution reads", func() {
			BeforeEach(func() {
				actorId, actorRole, actorInstitution = "ffffffffffffffffffffff01", roles.ROLE_FAMILY, "aaaaaaaaaaaaaaaaaaaaaa01"
			})
			assertHttpCode(http.StatusOK)

			It("should return the stored measurements", func() {
				response := []EnvironmentTransport{}
				Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(Succeed())
				Expect(response).To(HaveLen(1))
				Expect(*response[0].Temperature).To(Equal(23.0))
			})
		})

		Context("When a child of the institution reads", func() {
			BeforeEach(func() {
				actorId, actorRole, actorInstitution = "cccccccccccccccccccccc01", roles.ROLE_CHILD, "aaaaaaaaaaaaaaaaaaaaaa01"
			})
			assertHttpCode(http.StatusOK)

			It("should return the stored measurements", func() {
				response := []EnvironmentTransport{}
				Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(Succeed())
				Expect(response).To(HaveLen(1))
			})
		})

		Context("When an educator of another institution reads", func() {
			BeforeEach(func() {
				actorId, actorRole, actorInstitution = "dddddddddddddddddddddd01", roles.ROLE_EDUCATOR, "aaaaaaaaaaaaaaaaaaaaaa02"
			})
			assertHttpCode(http.StatusForbidden)
		})

		Context("When a child of another institution reads", func() {
			BeforeEach(func() {
				actorId, actorRole, actorInstitution = "cccccccccccccccccccccc01", roles.ROLE_CHILD, "aaaaaaaaaaaaaaaaaaaaaa02"
			})
			assertHttpCode(http.StatusForbidden)
		})

		Context("When an admin reads an unknown institution", func() {
			BeforeEach(func() {
				actorId, actorRole = "bbbbbbbbbbbbbbbbbbbbbb01", roles.ROLE_ADMIN
				httpEndpointToUse = "/v1/institutions/aaaaaaaaaaaaaaaaaaaaaa77/environments"
			})
			assertHttpCode(http.StatusOK)
			assertJsonResponse(`[]`)
		})
	})
})
