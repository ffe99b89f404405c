package contracts

// ProductOrderABI is the ABI of the ProductOrder shop contract.
const ProductOrderABI = `[
  {"type":"function","name":"getProductCount","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getProduct","stateMutability":"view",
   "inputs":[{"name":"_id","type":"uint256"}],
   "outputs":[{"name":"name","type":"string"},{"name":"price","type":"uint256"},{"name":"isAvailable","type":"bool"}]},
  {"type":"function","name":"addProduct","stateMutability":"nonpayable",
   "inputs":[{"name":"_name","type":"string"},{"name":"_price","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"orderProduct","stateMutability":"nonpayable",
   "inputs":[{"name":"_productId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"payForOrder","stateMutability":"payable",
   "inputs":[{"name":"_orderId","type":"uint256"}],"outputs":[]},
  {"type":"event","name":"ProductAdded","anonymous":false,"inputs":[
    {"name":"productId","type":"uint256","indexed":true},
    {"name":"name","type":"string","indexed":false},
    {"name":"price","type":"uint256","indexed":false}]},
  {"type":"event","name":"ProductOrdered","anonymous":false,"inputs":[
    {"name":"orderId","type":"uint256","indexed":true},
    {"name":"productId","type":"uint256","indexed":true},
    {"name":"buyer","type":"address","indexed":false}]},
  {"type":"event","name":"OrderPaid","anonymous":false,"inputs":[
    {"name":"orderId","type":"uint256","indexed":true},
    {"name":"buyer","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]}
]`

// Method and event names used by the shop.
const (
	MethodGetProductCount = "getProductCount"
	MethodGetProduct      = "getProduct"
	MethodAddProduct      = "addProduct"
	MethodOrderProduct    = "orderProduct"
	MethodPayForOrder     = "payForOrder"

	EventProductAdded   = "ProductAdded"
	EventProductOrdered = "ProductOrdered"
	EventOrderPaid      = "OrderPaid"
)
