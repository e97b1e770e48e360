package ledger

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// Handler exposes ledger operations and accessors over HTTP. The caller
// account is read from the "account_id" local set by the auth middleware.
type Handler struct {
	ledger   *Ledger
	validate *validator.Validate
}

// NewHandler constructs a ledger HTTP handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger, validate: validator.New()}
}

type mintRequest struct {
	To         string `json:"to" validate:"required"`
	AssetID    string `json:"asset_id" validate:"required"`
	Amount     string `json:"amount" validate:"required,numeric"`
	Descriptor []byte `json:"descriptor"`
}

type transferRequest struct {
	To     string `json:"to" validate:"required"`
	Amount string `json:"amount" validate:"required,numeric"`
}

type approvalRequest struct {
	Approved *bool `json:"approved" validate:"required"`
}

type assetResponse struct {
	ID          AssetID `json:"id"`
	TotalSupply Amount  `json:"total_supply"`
	Descriptor  []byte  `json:"descriptor"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Mint creates a new asset credited to the requested account.
func (h *Handler) Mint(c *fiber.Ctx) error {
	caller, err := callerID(c)
	if err != nil {
		return err
	}
	var req mintRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	event, err := h.ledger.Mint(c.UserContext(), caller, AccountID(req.To), AssetID(req.AssetID), amount, req.Descriptor)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(event)
}

// Transfer moves an amount of the path asset from the caller to another account.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	caller, err := callerID(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	id, err := pathParam(c, "assetId")
	if err != nil {
		return err
	}

	event, err := h.ledger.Transfer(c.UserContext(), caller, AccountID(req.To), AssetID(id), amount)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(event)
}

// SetApprovalForAll grants or revokes the path operator for the caller.
func (h *Handler) SetApprovalForAll(c *fiber.Ctx) error {
	caller, err := callerID(c)
	if err != nil {
		return err
	}
	var req approvalRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	operator, err := pathParam(c, "operator")
	if err != nil {
		return err
	}

	event, err := h.ledger.SetApprovalForAll(c.UserContext(), caller, AccountID(operator), *req.Approved)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(event)
}

// AssetCount returns the number of minted assets.
func (h *Handler) AssetCount(c *fiber.Ctx) error {
	count, err := h.ledger.AssetCount(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"asset_count": count})
}

// Asset returns the supply and descriptor of the path asset.
func (h *Handler) Asset(c *fiber.Ctx) error {
	id, err := pathParam(c, "assetId")
	if err != nil {
		return err
	}
	info, err := h.ledger.Asset(c.UserContext(), AssetID(id))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(assetResponse{ID: info.ID, TotalSupply: info.TotalSupply, Descriptor: info.Descriptor})
}

// Balance returns the balance of an account in the path asset.
func (h *Handler) Balance(c *fiber.Ctx) error {
	params, err := pathParams(c, "assetId", "account")
	if err != nil {
		return err
	}
	id, account := AssetID(params[0]), AccountID(params[1])
	amount, err := h.ledger.BalanceOf(c.UserContext(), id, account)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"asset_id": id, "account": account, "balance": amount})
}

// Approval reports whether the operator is approved for the owner.
func (h *Handler) Approval(c *fiber.Ctx) error {
	params, err := pathParams(c, "owner", "operator")
	if err != nil {
		return err
	}
	owner, operator := AccountID(params[0]), AccountID(params[1])
	approved, err := h.ledger.IsApprovedForAll(c.UserContext(), owner, operator)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"owner": owner, "operator": operator, "approved": approved})
}

// MintApproval returns the stored mint approval flag of an account.
func (h *Handler) MintApproval(c *fiber.Ctx) error {
	params, err := pathParams(c, "assetId", "account")
	if err != nil {
		return err
	}
	id, account := AssetID(params[0]), AccountID(params[1])
	approved, err := h.ledger.MintApproval(c.UserContext(), id, account)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"asset_id": id, "account": account, "approved": approved})
}

func (h *Handler) bind(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(out); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// pathParam returns a route parameter with percent-encoding removed, so ids
// containing spaces, slashes or non-ASCII text match what was minted. The
// value is copied because fiber reuses the request buffer.
func pathParam(c *fiber.Ctx, name string) (string, error) {
	value, err := url.PathUnescape(utils.CopyString(c.Params(name)))
	if err != nil {
		return "", fiber.NewError(http.StatusBadRequest, "invalid path parameter "+name)
	}
	if value == "" {
		return "", fiber.NewError(http.StatusBadRequest, "missing path parameter "+name)
	}
	return value, nil
}

func pathParams(c *fiber.Ctx, names ...string) ([]string, error) {
	values := make([]string, len(names))
	for i, name := range names {
		v, err := pathParam(c, name)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func callerID(c *fiber.Ctx) (AccountID, error) {
	id, _ := c.Locals("account_id").(string)
	if id == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "missing caller identity")
	}
	return AccountID(id), nil
}

func writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		return fiber.NewError(status, err.Error())
	}
	return c.Status(status).JSON(errorResponse{Code: Code(err), Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrZeroAmount), errors.Is(err, ErrSameAddress), errors.Is(err, ErrSelfApproval):
		return http.StatusBadRequest
	case errors.Is(err, ErrAssetNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAssetAlreadyExists), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
