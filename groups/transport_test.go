package groups_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/ecid-covid-it-support/tracking-api/authorization"
	"github.com/ecid-covid-it-support/tracking-api/claims"
	. "github.com/ecid-covid-it-support/tracking-api/groups"
	"github.com/ecid-covid-it-support/tracking-api/roles"
	"github.com/ecid-covid-it-support/tracking-api/shared"
	. "github.com/ecid-covid-it-support/tracking-api/shared/mocks"
	"github.com/ecid-covid-it-support/tracking-api/store"

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
		groupService := &GroupService{
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
			Service: groupService,
		}

		groupOwners := []struct {
			path string
			role string
		}{
			{"educators", roles.ROLE_EDUCATOR},
			{"healthprofessionals", roles.ROLE_HEALTH_PROFESSIONAL},
		}
		for _, owner := range groupOwners {
			prefix := "/v1/users/" + owner.path + "/{ownerId}/children/groups"
			router.Handle(prefix, handlerFactory.Add(owner.role, opts)).Methods(http.MethodPost)
			router.Handle(prefix, handlerFactory.List(owner.role, opts)).Methods(http.MethodGet)
			router.Handle(prefix+"/{groupId}", handlerFactory.Get(owner.role, opts)).Methods(http.MethodGet)
			router.Handle(prefix+"/{groupId}", handlerFactory.Update(owner.role, opts)).Methods(http.MethodPatch)
			router.Handle(prefix+"/{groupId}", handlerFactory.Delete(owner.role, opts)).Methods(http.MethodDelete)
		}

		recorder = httptest.NewRecorder()

		concreteDb.Exec(`INSERT INTO "institutions" ("institution_id","type","name") VALUES ('aaaaaaaaaaaaaaaaaaaaaa01','Institute of Education','Alfa School')`)
		concreteDb.Exec(`INSERT INTO "users" ("user_id","username","role","institution_id") VALUES ('bbbbbbbbbbbbbbbbbbbbbb01','admin','admin','aaaaaaaaaaaaaaaaaaaaaa01')`)
		concreteDb.Exec(`INSERT INTO "users" ("user_id","username","role","institution_id","gender","age") VALUES ('cccccccccccccccccccccc01','maria','child','aaaaaaaaaaaaaaaaaaaaaa01','female','9')`)
		concreteDb.Exec(`INSERT INTO "users" ("user_id","username","role","institution_id","gender","age") VALUES ('cccccccccccccccccccccc02','joao','child','aaaaaaaaaaaaaaaaaaaaaa01','male','8')`)
		concreteDb.Exec(`INSERT INTO "users" ("user_id","username","role","institution_id") VALUES ('dddddddddddddddddddddd01','jose','educator','aaaaaaaaaaaaaaaaaaaaaa01')`)
		concreteDb.Exec(`INSERT INTO "users" ("user_id","username","role","institution_id") VALUES ('dddddddddddddddddddddd02','ana','educator','aaaaaaaaaaaaaaaaaaaaaa01')`)
		concreteDb.Exec(`INSERT INTO "users" ("user_id","username","role","institution_id") VALUES ('eeeeeeeeeeeeeeeeeeeeee01','rui','healthprofessional','aaaaaaaaaaaaaaaaaaaaaa01')`)
		concreteDb.Exec(`INSERT INTO "children_groups" ("group_id","owner_id","name","school_class") VALUES ('1111111111111111111111ab','dddddddddddddddddddddd01','Turma A','3B')`)
		concreteDb.Exec(`INSERT INTO "group_children" ("group_id","child_id") VALUES ('1111111111111111111111ab','cccccccccccccccccccccc01')`)

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

	Describe("POST", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodPost
			httpEndpointToUse = "/v1/users/educators/dddddddddddddddddddddd01/children/groups"
			httpBodyToUse = `{"name":"Turma B","school_class":"4A","children":["cccccccccccccccccccccc01","cccccccccccccccccccccc02"]}`
		})

		Context("When the owner creates its own group", func() {
			BeforeEach(func() {
				actorId, actorRole = "dddddddddddddddddddddd01", roles.ROLE_EDUCATOR
			})
			assertHttpCode(http.StatusCreated)

			It("should return the roster without personal attributes", func() {
				response := GroupTransport{}
				Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(Succeed())
				Expect(*response.Id).To(Equal("9999999999999999999999aa"))
				Expect(*response.Name).To(Equal("Turma B"))
				Expect(response.Children).To(HaveLen(2))
				Expect(response.Children[0].Gender).To(BeNil())
				Expect(response.Children[0].Username).NotTo(BeNil())
			})
		})

		Context("When a health professional creates under its own collection", func() {
			BeforeEach(func() {
				actorId, actorRole = "eeeeeeeeeeeeeeeeeeeeee01", roles.ROLE_HEALTH_PROFESSIONAL
				httpEndpointToUse = "/v1/users/healthprofessionals/eeeeeeeeeeeeeeeeeeeeee01/children/groups"
			})
			assertHttpCode(http.StatusCreated)
		})

		Context("When an admin tries to create", func() {
			BeforeEach(func() {
				actorId, actorRole = "bbbbbbbbbbbbbbbbbbbbbb01", roles.ROLE_ADMIN
			})
			assertHttpCode(http.StatusForbidden)
		})

		Context("When another educator tries to create", func() {
			BeforeEach(func() {
				actorId, actorRole = "dddddddddddddddddddddd02", roles.ROLE_EDUCATOR
			})
			assertHttpCode(http.StatusForbidden)
		})

		Context("When the name is missing", func() {
			BeforeEach(func() {
				actorId, actorRole = "dddddddddddddddddddddd01", roles.ROLE_EDUCATOR
				httpBodyToUse = `{"children":["cccccccccccccccccccccc01"]}`
			})
			assertHttpCode(http.StatusBadRequest)
		})

		Context("When the children list is missing", func() {
			BeforeEach(func() {
				actorId, actorRole = "dddddddddddddddddddddd01", roles.ROLE_EDUCATOR
				httpBodyToUse = `{"name":"Turma B"}`
			})
			assertHttpCode(http.StatusBadRequest)
			assertJsonResponse(`{"message":"Required fields were not provided!","description":"children are required!"}`)
		})

		Context("When some children are not registered", func() {
			BeforeEach(func() {
				actorId, actorRole = "dddddddddddddddddddddd01", roles.ROLE_EDUCATOR
				httpBodyToUse = `{"name":"Turma B","children":["cccccccccccccccccccccc77"]}`
			})
			assertHttpCode(http.StatusBadRequest)
			assertJsonResponse(`{"message":"It is necessary that children be registered before proceeding.","description":"The following IDs were verified without registration: cccccccccccccccccccccc77"}`)
		})

		Context("When the name is taken for this owner", func() {
			BeforeEach(func() {
				actorId, actorRole = "dddddddddddddddddddddd01", roles.ROLE_EDUCATOR
				httpBodyToUse = `{"name":"Turma A","children":["cccccccccccccccccccccc01"]}`
			})
			assertHttpCode(http.StatusConflict)
			assertJsonResponse(`{"message":"Children Group is already registered!","description":"A registration with the same unique information already exists."}`)
		})

		Context("When the owner does not exist", func() {
			BeforeEach(func() {
				actorId, actorRole = "dddddddddddddddddddddd77", roles.ROLE_EDUCATOR
				httpEndpointToUse = "/v1/users/educators/dddddddddddddddddddddd77/children/groups"
			})
			assertHttpCode(http.StatusNotFound)
			assertJsonResponse(`{"message":"Educator not found!","description":"Educator not found or already removed. A new operation for the same resource is required."}`)
		})
	})

	Describe("GET /{groupId}", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodGet
			httpEndpointToUse = "/v1/users/educators/dddddddddddddddddddddd01/children/groups/1111111111111111111111ab"
		})

		Context("When the owner reads its group", func() {
			BeforeEach(func() {
				actorId, actorRole = "dddddddddddddddddddddd01", roles.ROLE_EDUCATOR
			})
			assertHttpCode(http.StatusOK)
			assertJsonResponse(`{
				"id": "1111111111111111111111ab",
				"name": "Turma A",
				"school_class": "3B",
				"children": [
					{"id":"cccccccccccccccccccccc01","username":"maria","institution_id":"aaaaaaaaaaaaaaaaaaaaaa01"}
				]
			}`)
		})

		Context("When an admin reads", func() {
			BeforeEach(func() {
				actorId, actorRole = "bbbbbbbbbbbbbbbbbbbbbb01", roles.ROLE_ADMIN
			})
			assertHttpCode(http.StatusOK)

			It("should include the children's personal attributes", func() {
				response := GroupTransport{}
				Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(Succeed())
				Expect(response.Children).To(HaveLen(1))
				Expect(*response.Children[0].Gender).To(Equal("female"))
			})
		})

		Context("When another educator reads", func() {
			BeforeEach(func() {
				actorId, actorRole = "dddddddddddddddddddddd02", roles.ROLE_EDUCATOR
			})
			assertHttpCode(http.StatusForbidden)
		})

		Context("When the group does not exist", func() {
			BeforeEach(func() {
				actorId, actorRole = "dddddddddddddddddddddd01", roles.ROLE_EDUCATOR
				httpEndpointToUse = "/v1/users/educators/dddddddddddddddddddddd01/children/groups/1111111111111111111111ff"
			})
			assertHttpCode(http.StatusNotFound)
		})
	})

	Describe("GET collection", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodGet
			httpEndpointToUse = "/v1/users/educators/dddddddddddddddddddddd01/children/groups"
		})

		Context("When the owner lists", func() {
			BeforeEach(func() {
				actorId, actorRole = "dddddddddddddddddddddd01", roles.ROLE_EDUCATOR
			})
			assertHttpCode(http.StatusOK)

			It("should return one group", func() {
				response := []GroupTransport{}
				Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(Succeed())
				Expect(response).To(HaveLen(1))
			})
		})

		Context("When an admin lists anyone's groups", func() {
			BeforeEach(func() {
				actorId, actorRole = "bbbbbbbbbbbbbbbbbbbbbb01", roles.ROLE_ADMIN
			})
			assertHttpCode(http.StatusOK)
		})

		Context("When an educator lists a colleague's groups", func() {
			BeforeEach(func() {
				actorId, actorRole = "dddddddddddddddddddddd02", roles.ROLE_EDUCATOR
			})
			assertHttpCode(http.StatusForbidden)
		})
	})

	Describe("PATCH", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodPatch
			httpEndpointToUse = "/v1/users/educators/dddddddddddddddddddddd01/children/groups/1111111111111111111111ab"
			actorId, actorRole = "dddddddddddddddddddddd01", roles.ROLE_EDUCATOR
		})

		Context("When renaming only", func() {
			BeforeEach(func() {
				httpBodyToUse = `{"name":"Turma A+"}`
			})
			assertHttpCode(http.StatusOK)

			It("should keep the roster untouched", func() {
				response := GroupTransport{}
				Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(Succeed())
				Expect(*response.Name).To(Equal("Turma A+"))
				Expect(response.Children).To(HaveLen(1))
			})
		})

		Context("When replacing the roster", func() {
			BeforeEach(func() {
				httpBodyToUse = `{"children":["cccccccccccccccccccccc02"]}`
			})
			assertHttpCode(http.StatusOK)

			It("should return exactly the new members", func() {
				response := GroupTransport{}
				Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(Succeed())
				Expect(response.Children).To(HaveLen(1))
				Expect(*response.Children[0].Id).To(Equal("cccccccccccccccccccccc02"))
			})
		})

		Context("When an admin tries", func() {
			BeforeEach(func() {
				actorId, actorRole = "bbbbbbbbbbbbbbbbbbbbbb01", roles.ROLE_ADMIN
				httpBodyToUse = `{"name":"Turma A+"}`
			})
			assertHttpCode(http.StatusForbidden)
		})
	})

	Describe("DELETE", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodDelete
			httpEndpointToUse = "/v1/users/educators/dddddddddddddddddddddd01/children/groups/1111111111111111111111ab"
			actorId, actorRole = "dddddddddddddddddddddd01", roles.ROLE_EDUCATOR
		})

		Context("When the owner deletes its group", func() {
			assertHttpCode(http.StatusNoContent)

			It("should leave member children registered", func() {
				Expect(concreteStore.UserExists(nil, "cccccccccccccccccccccc01", "child")).To(BeTrue())
			})
		})

		Context("When the group was already removed", func() {
			BeforeEach(func() {
				httpEndpointToUse = "/v1/users/educators/dddddddddddddddddddddd01/children/groups/1111111111111111111111ff"
			})
			assertHttpCode(http.StatusNoContent)
		})

		Context("When an admin tries", func() {
			BeforeEach(func() {
				actorId, actorRole = "bbbbbbbbbbbbbbbbbbbbbb01", roles.ROLE_ADMIN
			})
			assertHttpCode(http.StatusForbidden)
		})
	})
})
