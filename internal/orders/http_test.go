package orders

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrderEndpointReturnsAccepted(t *testing.T) {
	svc, _, _ := newTestService()
	srv := httptest.NewServer(NewHTTPHandler(svc).Routes())
	defer srv.Close()

	body := `{"customerId":"CUST123","customerName":"John Doe","items":[{"productId":"PROD001","productName":"Laptop","quantity":1,"price":999.99}],"shippingAddress":"1 Main St"}`
	resp, err := http.Post(srv.URL+"/orders", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode, "creation is accepted; confirmation is asynchronous")

	var created Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, StatusPending, created.Status)
	assert.NotEmpty(t, created.ID)

	got, err := http.Get(srv.URL + "/orders/" + created.ID)
	require.NoError(t, err)
	defer got.Body.Close()
	assert.Equal(t, http.StatusOK, got.StatusCode)
}

func TestCreateOrderEndpointRejectsInvalidBody(t *testing.T) {
	svc, _, _ := newTestService()
	srv := httptest.NewServer(NewHTTPHandler(svc).Routes())
	defer srv.Close()

	cases := map[string]string{
		"malformed json": `{"customerId":`,
		"empty items":    `{"customerId":"CUST123","items":[]}`,
		"zero quantity":  `{"customerId":"CUST123","items":[{"productId":"P","quantity":0,"price":1}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/orders", "application/json", strings.NewReader(body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetOrderEndpointNotFound(t *testing.T) {
	svc, _, _ := newTestService()
	srv := httptest.NewServer(NewHTTPHandler(svc).Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListOrdersEndpointFiltersByCustomer(t *testing.T) {
	svc, _, _ := newTestService()
	srv := httptest.NewServer(NewHTTPHandler(svc).Routes())
	defer srv.Close()

	body := `{"customerId":"CUST123","items":[{"productId":"PROD001","quantity":1,"price":10}]}`
	resp, err := http.Post(srv.URL+"/orders", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()

	list, err := http.Get(srv.URL + "/orders?customerId=CUST123")
	require.NoError(t, err)
	defer list.Body.Close()
	var mine []Order
	require.NoError(t, json.NewDecoder(list.Body).Decode(&mine))
	assert.Len(t, mine, 1)

	empty, err := http.Get(srv.URL + "/orders?customerId=CUST999")
	require.NoError(t, err)
	defer empty.Body.Close()
	var none []Order
	require.NoError(t, json.NewDecoder(empty.Body).Decode(&none))
	assert.Empty(t, none)
}
